package email

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Worker はキューからメールジョブを取り出して送信する。
// 送信は高々1回とし、失敗したジョブは再投入しない。
type Worker struct {
	composer Composer
	mailer   Mailer
	logger   *slog.Logger
	timeout  time.Duration
}

// NewWorker は新しいWorkerを生成する。timeoutは1ジョブあたりの送信上限。
func NewWorker(composer Composer, mailer Mailer, timeout time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Worker{composer: composer, mailer: mailer, logger: logger, timeout: timeout}
}

// Run はctxがキャンセルされるかdeliveriesが閉じられるまでジョブを処理する。
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				w.logger.InfoContext(ctx, "メールキューの購読が終了しました")
				return nil
			}
			w.Handle(ctx, d)
		}
	}
}

// Handle は1件のメッセージを処理し、ACK/NACK/REJECTのいずれかを返す。
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		w.logger.WarnContext(ctx, "不正なメールジョブを破棄します",
			slog.String("message_id", d.MessageId),
			slog.Any("error", err))
		w.settle(ctx, d, d.Reject(false))
		return
	}
	if err := job.Validate(); err != nil {
		w.logger.WarnContext(ctx, "不正なメールジョブを破棄します",
			slog.String("message_id", d.MessageId),
			slog.Any("error", err))
		w.settle(ctx, d, d.Reject(false))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
	err := deliver(sendCtx, w.composer, w.mailer, job)
	cancel()
	if err != nil {
		w.logger.ErrorContext(ctx, "メールの送信に失敗しました",
			slog.String("job_id", job.ID),
			slog.String("user_id", job.UserID),
			slog.String("event_type", job.Kind.String()),
			slog.Any("error", err))
		w.settle(ctx, d, d.Nack(false, false))
		return
	}
	w.logger.InfoContext(ctx, "メールを送信しました",
		slog.String("job_id", job.ID),
		slog.String("user_id", job.UserID),
		slog.String("event_type", job.Kind.String()))
	w.settle(ctx, d, d.Ack(false))
}

func (w *Worker) settle(ctx context.Context, d amqp.Delivery, err error) {
	if err != nil {
		w.logger.ErrorContext(ctx, "メッセージの確定に失敗しました",
			slog.String("message_id", d.MessageId),
			slog.Any("error", err))
	}
}
