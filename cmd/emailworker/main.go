// メール送信ワーカーのエントリポイント。
// 通知サービスがRabbitMQに積んだメールジョブを取り出してSMTPで送信する。
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/emersion/go-message/mail"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nao1215/marketnotify/internal/config"
	"github.com/nao1215/marketnotify/internal/delivery/email"
	"github.com/nao1215/marketnotify/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("メール送信ワーカーが異常終了しました: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}

	conn, err := amqp.Dial(cfg.AMQP.URL)
	if err != nil {
		return fmt.Errorf("RabbitMQへの接続に失敗: %w", err)
	}
	defer conn.Close()
	ch, err := email.OpenQueue(conn, cfg.AMQP.Queue, cfg.AMQP.Prefetch)
	if err != nil {
		return err
	}
	defer ch.Close()

	hostname, _ := os.Hostname()
	deliveries, err := email.Consume(ch, cfg.AMQP.Queue, "emailworker-"+hostname)
	if err != nil {
		return err
	}

	worker := email.NewWorker(
		email.Composer{
			From:    mail.Address{Name: cfg.SMTP.FromName, Address: cfg.SMTP.From},
			BaseURL: cfg.Server.FrontendURL,
		},
		email.NewSMTPMailer(email.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			StartTLS: cfg.SMTP.StartTLS,
			Timeout:  cfg.SMTP.Timeout,
		}),
		cfg.SMTP.Timeout,
		logger,
	)

	logger.Info("メール送信ワーカーを起動しました", slog.String("queue", cfg.AMQP.Queue))
	if err := worker.Run(ctx, deliveries); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("メール送信ワーカーを停止しました")
	return nil
}
