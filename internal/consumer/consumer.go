// Package consumer はKafkaトピックからドメインイベントを読み、ingestへ渡す。
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"github.com/nao1215/marketnotify/internal/ingest"
	"github.com/nao1215/marketnotify/pkg/event"
)

// Reader はConsumerが使うKafkaリーダーの操作。*kafka.Reader が満たす。
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler はイベントを1件処理する。*ingest.Dispatcher が満たす。
type Handler interface {
	Handle(ctx context.Context, ev *event.Event) error
}

// 処理結果のラベル。
const (
	resultOK      = "ok"
	resultInvalid = "invalid"
	resultFailed  = "failed"
)

// Config はKafkaリーダーの設定。
type Config struct {
	// Brokers はカンマ区切りのブローカーアドレス。
	Brokers string
	GroupID string
	Topic   string
}

// NewReader はコンシューマグループで購読するKafkaリーダーを生成する。
func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        strings.Split(cfg.Brokers, ","),
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})
}

// Consumer はメッセージを順に取り出して処理し、結果にかかわらずコミットする。
// 処理に失敗したイベントは再試行しない。
type Consumer struct {
	reader     Reader
	handler    Handler
	logger     *slog.Logger
	consumed   *prometheus.CounterVec
	retryDelay time.Duration
}

// New は新しいConsumerを生成する。regがnilでなければメトリクスを登録する。
func New(reader Reader, handler Handler, logger *slog.Logger, reg prometheus.Registerer) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketnotify",
		Name:      "consumed_events_total",
		Help:      "Kafkaから受信したイベントの処理結果ごとの件数",
	}, []string{"result"})
	if reg != nil {
		reg.MustRegister(consumed)
	}
	return &Consumer{
		reader:     reader,
		handler:    handler,
		logger:     logger,
		consumed:   consumed,
		retryDelay: time.Second,
	}
}

// Run はctxがキャンセルされるまでメッセージを処理する。終了時にリーダーを閉じる。
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("Kafkaリーダーのクローズに失敗しました", slog.Any("error", err))
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfoContext(ctx, "Kafkaの購読を終了します")
				return nil
			}
			c.logger.ErrorContext(ctx, "Kafkaメッセージの取得に失敗しました", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}

		c.consumed.WithLabelValues(c.process(ctx, m)).Inc()

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.ErrorContext(ctx, "オフセットのコミットに失敗しました",
				slog.Int64("offset", m.Offset),
				slog.Any("error", err))
		}
	}
}

// process は1件のメッセージを処理し、結果のラベルを返す。
func (c *Consumer) process(ctx context.Context, m kafka.Message) string {
	attrs := []any{
		slog.String("topic", m.Topic),
		slog.Int("partition", m.Partition),
		slog.Int64("offset", m.Offset),
	}

	ev, err := event.Parse(m.Value)
	if err != nil {
		c.logger.WarnContext(ctx, "不正なイベントを読み飛ばします", append(attrs, slog.Any("error", err))...)
		return resultInvalid
	}

	if err := c.handler.Handle(ctx, ev); err != nil {
		attrs = append(attrs,
			slog.String("event_id", ev.ID),
			slog.String("event_type", string(ev.EventType)),
			slog.Any("error", err))
		if errors.Is(err, ingest.ErrUnknownEventType) || errors.Is(err, ingest.ErrInvalidEvent) {
			c.logger.WarnContext(ctx, "処理できないイベントを読み飛ばします", attrs...)
			return resultInvalid
		}
		c.logger.ErrorContext(ctx, "イベントの処理に失敗しました", attrs...)
		return resultFailed
	}
	return resultOK
}
