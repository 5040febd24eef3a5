package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// jobType はキューに積むメッセージのType。
const jobType = "marketnotify.email"

// publishChannel はPublisherが使うAMQPチャネルの操作。*amqp.Channel が満たす。
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher はメールジョブをRabbitMQのキューへ積む。Queueを実装する。
type Publisher struct {
	ch     publishChannel
	queue  string
	logger *slog.Logger
}

var _ Queue = (*Publisher)(nil)

// NewPublisher は既定のエクスチェンジ経由でqueueへ積むPublisherを生成する。
func NewPublisher(ch publishChannel, queue string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{ch: ch, queue: queue, logger: logger}
}

// Enqueue はジョブを永続メッセージとして積む。
func (p *Publisher) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("メールジョブのシリアライズに失敗: %w", err)
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         jobType,
		Timestamp:    job.CreatedAt,
		Body:         body,
	}); err != nil {
		return fmt.Errorf("キュー %s への発行に失敗: %w", p.queue, err)
	}
	p.logger.DebugContext(ctx, "メールジョブを登録しました",
		slog.String("job_id", job.ID),
		slog.String("queue", p.queue))
	return nil
}

// OpenQueue は接続上にチャネルを開き、永続キューを宣言してプリフェッチ数を設定する。
// 返したチャネルは発行と購読の両方に使える。
func OpenQueue(conn *amqp.Connection, queue string, prefetch int) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("AMQPチャネルのオープンに失敗: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("キュー %s の宣言に失敗: %w", queue, err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("プリフェッチ数の設定に失敗: %w", err)
		}
	}
	return ch, nil
}

// Consume はキューの手動ACK購読を開始する。
func Consume(ch *amqp.Channel, queue, consumer string) (<-chan amqp.Delivery, error) {
	deliveries, err := ch.Consume(queue, consumer, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("キュー %s の購読に失敗: %w", queue, err)
	}
	return deliveries, nil
}
