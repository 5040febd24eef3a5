package notification

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Channel は配信チャネル。
type Channel string

const (
	// ChannelPush はプッシュ通知。
	ChannelPush Channel = "push"
	// ChannelEmail はメール。
	ChannelEmail Channel = "email"
	// ChannelWebhook はWebhook。
	ChannelWebhook Channel = "webhook"
)

// Outcome はベストエフォート配信1回分の結果。
type Outcome string

const (
	// OutcomeSent は送信に成功したことを表す。
	OutcomeSent Outcome = "sent"
	// OutcomeSuppressed は受信者の設定により送信しなかったことを表す。
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeFailed は送信に失敗したことを表す。ログに記録して破棄する。
	OutcomeFailed Outcome = "failed"
)

// delivery はベストエフォート配信1回分の文脈。ログ属性とメトリクスラベルに使う。
type delivery struct {
	channel      Channel
	kind         Kind
	userID       string
	entityID     string
	contractorID string
}

// bestEffort は配信処理を1回だけ実行し、結果を返す。エラーもパニックも呼び出し元へは伝播しない。
// fnの戻り値falseは抑止（エラーではない）として扱う。
func (s *Service) bestEffort(ctx context.Context, d delivery, fn func(ctx context.Context) (bool, error)) Outcome {
	if s.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deliveryTimeout)
		defer cancel()
	}

	sent, err := func() (sent bool, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("配信処理でパニックが発生: %v", r)
			}
		}()
		return fn(ctx)
	}()

	attrs := []any{
		slog.String("channel", string(d.channel)),
		slog.String("event_type", d.kind.String()),
		slog.String("user_id", d.userID),
		slog.String("entity_id", d.entityID),
		slog.String("contractor_id", d.contractorID),
	}

	var outcome Outcome
	switch {
	case err != nil:
		outcome = OutcomeFailed
		s.logger.ErrorContext(ctx, "通知の配信に失敗", append(attrs, slog.Any("error", err))...)
	case !sent:
		outcome = OutcomeSuppressed
		s.logger.DebugContext(ctx, "受信者の設定により配信を抑止", attrs...)
	default:
		outcome = OutcomeSent
	}
	s.metrics.deliveries.WithLabelValues(string(d.channel), d.kind.String(), string(outcome)).Inc()
	return outcome
}

// deliver は通知行を挿入できた受信者ごとにプッシュ、メールの順で配信する。
// チャネルごと・受信者ごとに失敗を隔離する。parallelismが2以上なら受信者を並行処理する。
func (s *Service) deliver(ctx context.Context, n notice, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}

	if n.batchPush {
		s.bestEffort(ctx, delivery{channel: ChannelPush, kind: n.kind, entityID: n.entityID, contractorID: n.contractorID},
			func(ctx context.Context) (bool, error) {
				return true, s.push.SendPushNotifications(ctx, userIDs, n.payload, n.kind)
			})
	}

	if s.parallelism <= 1 {
		for _, userID := range userIDs {
			s.deliverTo(ctx, n, userID)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for _, userID := range userIDs {
		g.Go(func() error {
			s.deliverTo(ctx, n, userID)
			return nil
		})
	}
	_ = g.Wait()
}

// deliverTo は1人の受信者にプッシュとメールを配信する。
func (s *Service) deliverTo(ctx context.Context, n notice, userID string) {
	d := delivery{kind: n.kind, userID: userID, entityID: n.entityID, contractorID: n.contractorID}

	if !n.batchPush {
		d.channel = ChannelPush
		s.bestEffort(ctx, d, func(ctx context.Context) (bool, error) {
			return true, s.push.SendPushNotification(ctx, userID, n.payload, n.kind, n.contractorID)
		})
	}

	d.channel = ChannelEmail
	s.bestEffort(ctx, d, func(ctx context.Context) (bool, error) {
		return s.email.SendNotificationEmail(ctx, userID, n.kind, n.payload, n.kind.SkipEmailQueue(), n.contractorID)
	})
}

// sendWebhook はイベント単位のWebhookを1回だけ送信する。失敗はログに記録して破棄する。
func (s *Service) sendWebhook(ctx context.Context, ev WebhookEvent) {
	d := delivery{channel: ChannelWebhook, kind: ev.Kind, userID: ev.UserID, entityID: ev.EntityID, contractorID: ev.ContractorID}
	s.bestEffort(ctx, d, func(ctx context.Context) (bool, error) {
		return true, s.webhook.SendWebhooks(ctx, ev)
	})
}
