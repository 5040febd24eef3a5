// 通知サービスのエントリポイント。
// マーケットプレイスのドメインイベントを受け取り、受信箱への保存と
// プッシュ、メール（キュー経由）、Webhookへの配信を行う。
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/emersion/go-message/mail"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/marketnotify/internal/config"
	"github.com/nao1215/marketnotify/internal/consumer"
	"github.com/nao1215/marketnotify/internal/delivery/email"
	"github.com/nao1215/marketnotify/internal/delivery/push"
	"github.com/nao1215/marketnotify/internal/delivery/webhook"
	"github.com/nao1215/marketnotify/internal/ingest"
	"github.com/nao1215/marketnotify/internal/notification"
	"github.com/nao1215/marketnotify/internal/server"
	"github.com/nao1215/marketnotify/internal/store"
	"github.com/nao1215/marketnotify/internal/telemetry"
	"github.com/nao1215/marketnotify/pkg/httpclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("通知サービスが異常終了しました: %v", err)
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
	slog.SetDefault(logger)

	tp, shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("トレーサーの停止に失敗", slog.Any("error", err))
		}
	}()

	st, err := store.Open(ctx, cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

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

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mailer := email.NewSMTPMailer(email.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		StartTLS: cfg.SMTP.StartTLS,
		Timeout:  cfg.SMTP.Timeout,
	})
	composer := email.Composer{
		From:    mail.Address{Name: cfg.SMTP.FromName, Address: cfg.SMTP.From},
		BaseURL: cfg.Server.FrontendURL,
	}
	hookClient := httpclient.New("",
		httpclient.WithTimeout(cfg.Webhook.Timeout),
		httpclient.WithTransport(otelhttp.NewTransport(http.DefaultTransport)),
		httpclient.WithUserAgent("marketnotify-webhook/1.0"),
	)

	svc := notification.NewService(
		st, st,
		push.NewSender(rdb, push.WithInboxSize(cfg.Redis.InboxSize), push.WithInboxTTL(cfg.Redis.InboxTTL)),
		email.NewSender(st, email.NewPublisher(ch, cfg.AMQP.Queue, logger), mailer, composer, logger),
		webhook.NewSender(st, hookClient, logger),
		notification.WithLogger(logger),
		notification.WithMetrics(notification.NewMetrics(reg)),
		notification.WithTracerProvider(tp),
		notification.WithDeliveryTimeout(cfg.Delivery.Timeout),
		notification.WithParallelism(cfg.Delivery.Parallelism),
	)
	dispatcher := ingest.NewDispatcher(svc, st, logger, ingest.WithEventLog(st))

	srv := server.New(st, dispatcher, rdb, server.Config{
		JWTSecret:   cfg.JWT.Secret,
		CORSOrigins: cfg.Server.CORSOrigins,
		Gatherer:    reg,
	}, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx, ":"+strconv.Itoa(cfg.Server.Port), cfg.Server.ShutdownTimeout)
	})
	if cfg.Kafka.Enabled {
		c := consumer.New(consumer.NewReader(consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   cfg.Kafka.Topic,
		}), dispatcher, logger, reg)
		g.Go(func() error { return c.Run(ctx) })
	}

	// RabbitMQの接続が切れたらメールを積めないので停止して再起動に任せる
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	g.Go(func() error {
		select {
		case err, ok := <-closed:
			if ok && err != nil {
				return fmt.Errorf("RabbitMQの接続が切断されました: %w", err)
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	logger.Info("通知サービスを起動しました",
		slog.Int("port", cfg.Server.Port),
		slog.Bool("kafka", cfg.Kafka.Enabled),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("通知サービスを停止しました")
	return nil
}
