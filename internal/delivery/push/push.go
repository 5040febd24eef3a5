// Package push はプッシュ通知をRedisへ配信する。
//
// 受信者ごとのチャネル push:user:<id> へPUBLISHし、接続中のクライアントへ即時に届ける。
// 同時にリスト push:inbox:<id> へ直近のメッセージを保持し、再接続時の取りこぼしを補う。
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/marketnotify/internal/notification"
)

const (
	// defaultInboxSize は受信者ごとに保持するメッセージ数の既定値。
	defaultInboxSize = 100
	// defaultInboxTTL は保持リストの有効期限の既定値。
	defaultInboxTTL = 7 * 24 * time.Hour
)

// Commands はSenderが使うRedisコマンド。*redis.Client と redis.Pipeliner の両方が満たす。
type Commands interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// pipeliner はトランザクションパイプラインに対応したクライアント。
type pipeliner interface {
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// Message はクライアントへ届けるプッシュメッセージ。
type Message struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Kind         string            `json:"kind"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Link         string            `json:"link,omitempty"`
	EntityID     string            `json:"entity_id"`
	ContractorID string            `json:"contractor_id,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	SentAt       time.Time         `json:"sent_at"`
}

// ChannelKey は受信者のPub/Subチャネル名を返す。
func ChannelKey(userID string) string { return "push:user:" + userID }

// InboxKey は受信者の保持リストのキーを返す。
func InboxKey(userID string) string { return "push:inbox:" + userID }

// Sender はRedisを使ったプッシュ配信。notification.PushSenderを実装する。
type Sender struct {
	rdb       Commands
	inboxSize int64
	inboxTTL  time.Duration
	now       func() time.Time
}

var _ notification.PushSender = (*Sender)(nil)

// Option はSenderの任意設定。
type Option func(*Sender)

// WithInboxSize は受信者ごとに保持するメッセージ数を設定する。
func WithInboxSize(n int64) Option {
	return func(s *Sender) {
		if n > 0 {
			s.inboxSize = n
		}
	}
}

// WithInboxTTL は保持リストの有効期限を設定する。
func WithInboxTTL(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.inboxTTL = d
		}
	}
}

// NewSender は新しいSenderを生成する。
func NewSender(rdb Commands, opts ...Option) *Sender {
	s := &Sender{
		rdb:       rdb,
		inboxSize: defaultInboxSize,
		inboxTTL:  defaultInboxTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendPushNotification は1人の受信者へプッシュ通知を送る。
func (s *Sender) SendPushNotification(ctx context.Context, userID string, payload notification.Payload, kind notification.Kind, contractorID string) error {
	msg, err := s.encode(userID, payload, kind, contractorID)
	if err != nil {
		return err
	}
	return s.exec(ctx, func(c Commands) {
		s.queue(ctx, c, userID, msg)
	})
}

// SendPushNotifications は複数の受信者へ同じ内容のプッシュ通知をまとめて送る。
func (s *Sender) SendPushNotifications(ctx context.Context, userIDs []string, payload notification.Payload, kind notification.Kind) error {
	if len(userIDs) == 0 {
		return nil
	}
	msgs := make([][]byte, len(userIDs))
	for i, id := range userIDs {
		msg, err := s.encode(id, payload, kind, "")
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return s.exec(ctx, func(c Commands) {
		for i, id := range userIDs {
			s.queue(ctx, c, id, msgs[i])
		}
	})
}

// encode はプッシュメッセージをJSONにする。
func (s *Sender) encode(userID string, payload notification.Payload, kind notification.Kind, contractorID string) ([]byte, error) {
	b, err := json.Marshal(Message{
		ID:           uuid.New().String(),
		UserID:       userID,
		Kind:         kind.String(),
		Title:        payload.Title,
		Body:         payload.Body,
		Link:         payload.Link,
		EntityID:     payload.EntityID,
		ContractorID: contractorID,
		Data:         payload.Data,
		SentAt:       s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("プッシュメッセージのシリアライズに失敗: %w", err)
	}
	return b, nil
}

// queue は1人分のPUBLISHと保持リストの更新をcへ積む。
func (s *Sender) queue(ctx context.Context, c Commands, userID string, msg []byte) {
	c.Publish(ctx, ChannelKey(userID), msg)
	c.LPush(ctx, InboxKey(userID), msg)
	c.LTrim(ctx, InboxKey(userID), 0, s.inboxSize-1)
	c.Expire(ctx, InboxKey(userID), s.inboxTTL)
}

// exec はクライアントがパイプラインに対応していればMULTI/EXECでまとめて実行し、
// そうでなければコマンドを順に実行して最初のエラーを返す。
func (s *Sender) exec(ctx context.Context, fn func(Commands)) error {
	if p, ok := s.rdb.(pipeliner); ok {
		if _, err := p.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			fn(pipe)
			return nil
		}); err != nil {
			return fmt.Errorf("Redisへのプッシュ配信に失敗: %w", err)
		}
		return nil
	}

	rec := &recorder{Commands: s.rdb}
	fn(rec)
	if rec.err != nil {
		return fmt.Errorf("Redisへのプッシュ配信に失敗: %w", rec.err)
	}
	return nil
}

// recorder はパイプライン非対応のクライアントでコマンドを即時実行し、最初のエラーを記録する。
type recorder struct {
	Commands
	err error
}

func (r *recorder) keep(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

func (r *recorder) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := r.Commands.Publish(ctx, channel, message)
	r.keep(cmd.Err())
	return cmd
}

func (r *recorder) LPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	cmd := r.Commands.LPush(ctx, key, values...)
	r.keep(cmd.Err())
	return cmd
}

func (r *recorder) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	cmd := r.Commands.LTrim(ctx, key, start, stop)
	r.keep(cmd.Err())
	return cmd
}

func (r *recorder) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := r.Commands.Expire(ctx, key, expiration)
	r.keep(cmd.Err())
	return cmd
}

// Recent は受信者の保持リストから新しい順に最大limit件のメッセージを返す。
func Recent(ctx context.Context, rdb interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}, userID string, limit int64) ([]Message, error) {
	if limit <= 0 {
		limit = defaultInboxSize
	}
	vals, err := rdb.LRange(ctx, InboxKey(userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("保持リストの取得に失敗: %w", err)
	}
	out := make([]Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if json.Unmarshal([]byte(v), &m) == nil {
			out = append(out, m)
		}
	}
	return out, nil
}
