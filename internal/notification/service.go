package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// defaultDeliveryTimeout は配信1回あたりのタイムアウトの既定値。
const defaultDeliveryTimeout = 10 * time.Second

// Service は通知ファンアウトのオーケストレータ。
// ドメインイベントごとに、通知オブジェクト → 変更履歴 → 通知行 → 配信 の順に処理する。
// 手順1〜5の失敗（設定不備、受信者解決・永続化の失敗）はエラーとして返し、
// 配信（プッシュ、メール、Webhook）の失敗はログに記録して握りつぶす。
type Service struct {
	// repo は通知テーブル群の永続化層。
	repo Repository
	// dir は受信者解決に使う外部情報。
	dir Directory
	// push はプッシュ通知の配信先。
	push PushSender
	// email はメールの配信先。
	email EmailSender
	// webhook はWebhookの配信先。
	webhook WebhookSender
	// logger は構造化ロガー。
	logger *slog.Logger
	// metrics はPrometheusメトリクス。
	metrics *Metrics
	// tracer はイベント処理ごとのスパンを生成する。
	tracer trace.Tracer
	// deliveryTimeout は配信1回あたりのタイムアウト。0以下なら無制限。
	deliveryTimeout time.Duration
	// parallelism は受信者ごとの配信を並行実行する上限。1以下なら逐次実行。
	parallelism int
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics はメトリクスを設定する。
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracerProvider はトレーサープロバイダを設定する。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithDeliveryTimeout は配信1回あたりのタイムアウトを設定する。
func WithDeliveryTimeout(d time.Duration) Option {
	return func(s *Service) { s.deliveryTimeout = d }
}

// WithParallelism は受信者ごとの配信の並行数を設定する。
func WithParallelism(n int) Option {
	return func(s *Service) { s.parallelism = n }
}

const tracerName = "github.com/nao1215/marketnotify/internal/notification"

// NewService は新しいオーケストレータを生成する。
func NewService(
	repo Repository,
	dir Directory,
	push PushSender,
	email EmailSender,
	webhook WebhookSender,
	opts ...Option,
) *Service {
	s := &Service{
		repo:            repo,
		dir:             dir,
		push:            push,
		email:           email,
		webhook:         webhook,
		logger:          slog.Default(),
		metrics:         NewMetrics(nil),
		tracer:          otel.GetTracerProvider().Tracer(tracerName),
		deliveryTimeout: defaultDeliveryTimeout,
		parallelism:     1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// notice は1回分のファンアウトの入力。
type notice struct {
	// kind はイベント種別。
	kind Kind
	// entityID は対象エンティティの識別子。
	entityID string
	// actorID はイベントを起こしたユーザー。変更履歴に記録される。
	actorID string
	// contractorID は配信時の文脈となるコントラクター。
	contractorID string
	// recipients は解決済みの受信者。
	recipients []string
	// payload は配信内容。
	payload Payload
	// batchPush がtrueならプッシュ通知を受信者一括で送る。
	batchPush bool
}

// notify はファンアウトを行い、通知行を挿入できた受信者へ配信する。
func (s *Service) notify(ctx context.Context, n notice) error {
	notified, err := s.fanout(ctx, n)
	if err != nil {
		return err
	}
	s.deliver(ctx, n, notified)
	return nil
}

// fanout はアクション解決、通知オブジェクトの作成または再利用、変更履歴の追記、
// 通知行の挿入を順に行い、実際に通知行を挿入した受信者IDを返す。
func (s *Service) fanout(ctx context.Context, n notice) ([]string, error) {
	action, err := s.repo.ActionByName(ctx, n.kind.String())
	if err != nil {
		return nil, fmt.Errorf("アクション %s の解決に失敗: %w", n.kind, err)
	}

	if len(n.recipients) == 0 {
		s.logger.DebugContext(ctx, "受信者がいないため通知を作成しません",
			slog.String("event_type", n.kind.String()),
			slog.String("entity_id", n.entityID))
		return nil, nil
	}

	object, err := s.resolveObject(ctx, action, n)
	if err != nil {
		return nil, err
	}

	if err := s.repo.InsertNotificationChanges(ctx, []Change{{ObjectID: object.ID, ActorID: n.actorID}}); err != nil {
		return nil, fmt.Errorf("通知変更履歴の追記に失敗: %w", err)
	}

	dedupe := n.kind.DedupeByEntityAndAction()
	rows := make([]NewNotification, 0, len(n.recipients))
	for _, userID := range n.recipients {
		if dedupe {
			unread, err := s.repo.GetUnreadNotificationByUserAndObject(ctx, userID, object.ID)
			if err != nil {
				return nil, fmt.Errorf("未読通知の確認に失敗: %w", err)
			}
			if unread != nil {
				s.metrics.fanoutSkipped.WithLabelValues(n.kind.String()).Inc()
				continue
			}
		}
		rows = append(rows, NewNotification{ObjectID: object.ID, NotifierID: userID})
	}
	if len(rows) == 0 {
		return nil, nil
	}

	inserted, err := s.repo.InsertNotifications(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("通知行の挿入に失敗: %w", err)
	}
	s.metrics.fanoutRows.WithLabelValues(n.kind.String()).Add(float64(len(inserted)))
	return inserted, nil
}

// resolveObject は通知オブジェクトを返す。重複排除対象の種別では既存オブジェクトの
// 更新日時を更新して再利用し、それ以外は毎回新規作成する。
// 同時に作成しようとした場合もストアの一意制約により同じオブジェクトに収束する。
func (s *Service) resolveObject(ctx context.Context, action Action, n notice) (Object, error) {
	if n.kind.DedupeByEntityAndAction() {
		existing, err := s.repo.GetNotificationObjectByEntityAndAction(ctx, n.entityID, action.ActionTypeID)
		if err != nil {
			return Object{}, fmt.Errorf("既存の通知オブジェクトの取得に失敗: %w", err)
		}
		if existing != nil {
			if err := s.repo.UpdateNotificationObjectTimestamp(ctx, existing.ID); err != nil {
				return Object{}, fmt.Errorf("通知オブジェクトの更新に失敗: %w", err)
			}
			return *existing, nil
		}
	}

	objects, err := s.repo.InsertNotificationObjects(ctx, []NewObject{{
		ActionTypeID: action.ActionTypeID,
		EntityID:     n.entityID,
		Dedupe:       n.kind.DedupeByEntityAndAction(),
	}})
	if err != nil {
		return Object{}, fmt.Errorf("通知オブジェクトの作成に失敗: %w", err)
	}
	if len(objects) != 1 {
		return Object{}, fmt.Errorf("通知オブジェクトの作成結果が不正: %d件", len(objects))
	}
	return objects[0], nil
}

// start はイベント処理のスパンを開始し、処理件数を記録する。
func (s *Service) start(ctx context.Context, kind Kind, entityID string) (context.Context, trace.Span) {
	s.metrics.events.WithLabelValues(kind.String()).Inc()
	return s.tracer.Start(ctx, "notification."+kind.String(), trace.WithAttributes(
		attribute.String("notification.kind", kind.String()),
		attribute.String("notification.entity_id", entityID),
	))
}

// end はスパンにエラーを記録して終了する。
func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
