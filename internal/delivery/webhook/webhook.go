// Package webhook はイベント単位のWebhookを購読者のエンドポイントへ配信する。
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/marketnotify/internal/notification"
	"github.com/nao1215/marketnotify/internal/store"
	"github.com/nao1215/marketnotify/pkg/httpclient"
)

// リクエストヘッダー。
const (
	HeaderEvent     = "X-Marketnotify-Event"
	HeaderDelivery  = "X-Marketnotify-Delivery"
	HeaderTimestamp = "X-Marketnotify-Timestamp"
	HeaderSignature = "X-Marketnotify-Signature"
)

// Subscriptions はイベントを購読しているWebhookを引く。
type Subscriptions interface {
	WebhooksFor(ctx context.Context, contractorID, userID, action string) ([]store.Webhook, error)
}

// Envelope はWebhookで送るJSON本文。
type Envelope struct {
	// ID は配信ごとの一意識別子。受信側の重複排除に使う。
	ID string `json:"id"`
	// Event はアクション名。
	Event string `json:"event"`
	// EntityID は対象エンティティの識別子。
	EntityID string `json:"entity_id"`
	// ContractorID は関係するコントラクター。
	ContractorID string `json:"contractor_id,omitempty"`
	// Data はイベント固有データ。
	Data any `json:"data"`
	// SentAt は送信日時（UTC）。
	SentAt time.Time `json:"sent_at"`
}

// Sender はWebhookの配信を行う。notification.WebhookSenderを実装する。
type Sender struct {
	subs   Subscriptions
	client *httpclient.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ notification.WebhookSender = (*Sender)(nil)

// NewSender は新しいSenderを生成する。clientはベースURL無しで生成したものを渡す。
func NewSender(subs Subscriptions, client *httpclient.Client, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{subs: subs, client: client, logger: logger, now: time.Now}
}

// SendWebhooks はイベントを購読しているすべてのエンドポイントへ1回ずつPOSTする。
// エンドポイントごとの失敗はまとめて1つのエラーとして返す。
func (s *Sender) SendWebhooks(ctx context.Context, ev notification.WebhookEvent) error {
	hooks, err := s.subs.WebhooksFor(ctx, ev.ContractorID, ev.UserID, ev.Kind.String())
	if err != nil {
		return fmt.Errorf("Webhook購読の取得に失敗: %w", err)
	}
	if len(hooks) == 0 {
		return nil
	}

	var errs []error
	for _, h := range hooks {
		if err := s.post(ctx, h, ev); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", h.WebhookID, err))
			continue
		}
		s.logger.DebugContext(ctx, "Webhookを配信しました",
			slog.String("webhook_id", h.WebhookID),
			slog.String("event_type", ev.Kind.String()))
	}
	return errors.Join(errs...)
}

// post は1つのエンドポイントへ署名付きで送信する。
func (s *Sender) post(ctx context.Context, h store.Webhook, ev notification.WebhookEvent) error {
	sentAt := s.now().UTC()
	env := Envelope{
		ID:           uuid.New().String(),
		Event:        ev.Kind.String(),
		EntityID:     ev.EntityID,
		ContractorID: ev.ContractorID,
		Data:         ev.Data,
		SentAt:       sentAt,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("Webhook本文のシリアライズに失敗: %w", err)
	}

	ts := strconv.FormatInt(sentAt.Unix(), 10)
	opts := []httpclient.RequestOption{
		httpclient.WithHeader(HeaderEvent, env.Event),
		httpclient.WithHeader(HeaderDelivery, env.ID),
		httpclient.WithHeader(HeaderTimestamp, ts),
	}
	if h.Secret != "" {
		opts = append(opts, httpclient.WithHeader(HeaderSignature, "sha256="+Sign(h.Secret, ts, body)))
	}
	return s.client.PostJSON(ctx, h.URL, body, nil, opts...)
}

// Sign はタイムスタンプと本文に対するHMAC-SHA256署名を16進文字列で返す。
// 署名対象は "<timestamp>.<body>"。
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify は受信側で署名を検証する。
func Verify(secret, timestamp string, body []byte, signature string) bool {
	expected := "sha256=" + Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
