// Webhookの購読先を手元で確認するための受信サーバー。
// 署名を検証したうえで、受け取ったイベントをログに出力する。
//
//	webhookecho --addr :9000 --secret <登録時に返されたシークレット>
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	flag "github.com/spf13/pflag"

	"github.com/nao1215/marketnotify/internal/config"
	"github.com/nao1215/marketnotify/internal/delivery/webhook"
	"github.com/nao1215/marketnotify/internal/telemetry"
	"github.com/nao1215/marketnotify/pkg/middleware"
)

func main() {
	var (
		addr      = flag.StringP("addr", "a", ":9000", "待ち受けアドレス")
		secret    = flag.StringP("secret", "s", "", "署名検証に使うシークレット（空なら検証しない）")
		tolerance = flag.Duration("tolerance", 5*time.Minute, "許容するタイムスタンプのずれ")
		logFormat = flag.String("log-format", "text", "ログ形式（json, text）")
	)
	flag.Parse()

	logger, err := telemetry.NewLogger(config.LogConfig{Level: "debug", Format: *logFormat}, os.Stdout)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗: %v", err)
	}

	receiver := webhook.NewReceiver(*secret, *tolerance, func(ctx context.Context, env webhook.Envelope) error {
		logger.InfoContext(ctx, "Webhookを受信しました",
			slog.String("delivery_id", env.ID),
			slog.String("event", env.Event),
			slog.String("entity_id", env.EntityID),
			slog.String("contractor_id", env.ContractorID),
			slog.Any("data", env.Data),
		)
		return nil
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.RequestLogger(logger))
	router.POST("/*path", gin.WrapH(receiver))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: *addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	logger.Info("Webhook受信サーバーを起動しました",
		slog.String("addr", *addr),
		slog.Bool("verify", *secret != ""))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Webhook受信サーバーが異常終了しました: %v", err)
	}
}
