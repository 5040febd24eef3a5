// Package email は通知メールの配信を行う。
//
// 受信者のアドレスとメール設定をストアから引き、通常はRabbitMQのキューへジョブを積む。
// キューを経由しない種別はその場でMIMEメッセージを組み立ててSMTPで送信する。
// キューに積まれたジョブはWorkerが取り出して送信する。
package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/marketnotify/internal/notification"
)

// Recipients は受信者のアドレスとメール配信可否を引く。*store.Store が満たす。
type Recipients interface {
	EmailRecipient(ctx context.Context, userID, action string) (string, bool, error)
}

// Queue はメールジョブを非同期送信用のキューへ積む。
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Mailer は組み立て済みのメッセージを送信する。
type Mailer interface {
	Send(ctx context.Context, from, to string, msg []byte) error
}

// Sender は通知メールの配信を行う。notification.EmailSenderを実装する。
type Sender struct {
	recipients Recipients
	queue      Queue
	mailer     Mailer
	composer   Composer
	logger     *slog.Logger
	now        func() time.Time
}

var _ notification.EmailSender = (*Sender)(nil)

// NewSender は新しいSenderを生成する。
func NewSender(recipients Recipients, queue Queue, mailer Mailer, composer Composer, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		recipients: recipients,
		queue:      queue,
		mailer:     mailer,
		composer:   composer,
		logger:     logger,
		now:        time.Now,
	}
}

// SendNotificationEmail は受信者へ通知メールを送る。
// 受信者がメールを無効にしている、またはアドレスが無い場合はfalse, nilを返す。
// skipQueueがtrueならキューを経由せずにその場で送信する。
func (s *Sender) SendNotificationEmail(ctx context.Context, userID string, kind notification.Kind, payload notification.Payload, skipQueue bool, contractorID string) (bool, error) {
	to, enabled, err := s.recipients.EmailRecipient(ctx, userID, kind.String())
	if err != nil {
		return false, fmt.Errorf("メール受信設定の取得に失敗: %w", err)
	}
	if !enabled {
		return false, nil
	}

	job := Job{
		ID:           uuid.New().String(),
		UserID:       userID,
		To:           to,
		Kind:         kind,
		Payload:      payload,
		ContractorID: contractorID,
		CreatedAt:    s.now().UTC(),
	}

	if !skipQueue {
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return false, fmt.Errorf("メールジョブの登録に失敗: %w", err)
		}
		return true, nil
	}

	if err := deliver(ctx, s.composer, s.mailer, job); err != nil {
		return false, err
	}
	s.logger.DebugContext(ctx, "メールを即時送信しました",
		slog.String("job_id", job.ID),
		slog.String("user_id", userID),
		slog.String("event_type", kind.String()))
	return true, nil
}

// deliver はジョブを組み立てて送信する。
func deliver(ctx context.Context, c Composer, m Mailer, job Job) error {
	msg, err := c.Compose(job)
	if err != nil {
		return fmt.Errorf("メールの組み立てに失敗: %w", err)
	}
	if err := m.Send(ctx, c.From.Address, job.To, msg); err != nil {
		return fmt.Errorf("メールの送信に失敗: %w", err)
	}
	return nil
}
