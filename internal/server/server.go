// Package server は通知サービスのHTTP APIを提供する。
//
// /api/v1 以下はJWTで認証し、受信箱の参照と更新、メール通知設定、Webhook購読、
// 内部サービスからのイベント投入を扱う。/health と /metrics は認証なしで公開する。
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nao1215/marketnotify/internal/notification"
	"github.com/nao1215/marketnotify/internal/store"
	"github.com/nao1215/marketnotify/pkg/event"
	"github.com/nao1215/marketnotify/pkg/middleware"
)

// Repository はHTTP APIが使う永続化操作。*store.Store が実装する。
type Repository interface {
	ListNotifications(ctx context.Context, userID string, opts store.ListOptions) ([]store.InboxItem, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkAsRead(ctx context.Context, userID, notificationID string) error
	MarkAllAsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, userID, notificationID string) error
	DeleteNotifications(ctx context.Context, userID string, notificationIDs []string) (int64, error)
	ActionByName(ctx context.Context, name string) (notification.Action, error)
	ListActions(ctx context.Context) ([]notification.Action, error)
	ChangeActors(ctx context.Context, objectID string) ([]string, error)
	SetEmailPreference(ctx context.Context, userID, action string, enabled bool) error
	CreateWebhook(ctx context.Context, w store.Webhook) (store.Webhook, error)
	ListWebhooks(ctx context.Context, userID string) ([]store.Webhook, error)
	IsMember(ctx context.Context, contractorID, userID string) (bool, error)
	ListReceivedEvents(ctx context.Context, f store.EventFilter) ([]store.ReceivedEvent, error)
	Ping(ctx context.Context) error
}

var _ Repository = (*store.Store)(nil)

// EventHandler はドメインイベントを通知処理へ振り分ける。
type EventHandler interface {
	Handle(ctx context.Context, ev *event.Event) error
}

// PushHistory はプッシュの保持リストを読むRedisコマンド。
type PushHistory interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// Config はHTTPサーバーの設定。
type Config struct {
	// JWTSecret はトークン検証に使うHS256の鍵。
	JWTSecret string
	// CORSOrigins はブラウザからの呼び出しを許可するオリジン。
	CORSOrigins []string
	// Gatherer は /metrics で公開するメトリクス。nilならデフォルトのレジストリ。
	Gatherer prometheus.Gatherer
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	router *gin.Engine
	repo   Repository
	events EventHandler
	// push はnilでもよい。その場合プッシュ履歴APIは503を返す。
	push   PushHistory
	logger *slog.Logger
}

// New は新しい通知サーバーを生成し、ルーティングを設定する。
func New(repo Repository, events EventHandler, push PushHistory, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(middleware.CORS(cfg.CORSOrigins))
	}

	s := &Server{
		router: router,
		repo:   repo,
		events: events,
		push:   push,
		logger: logger,
	}
	s.setupRoutes(cfg)
	return s
}

// Handler はトレースを付与したHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "marketnotify",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Run はaddrでHTTPサーバーを起動し、ctxがキャンセルされたら停止する。
// 停止時は処理中のリクエストをshutdownTimeoutまで待つ。
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバーを起動します", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTPサーバーが停止: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(cfg Config) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(cfg.JWTSecret))
	{
		notifications := api.Group("/notifications")
		{
			notifications.GET("", s.handleList())
			notifications.GET("/unread", s.handleListUnread())
			notifications.GET("/unread/count", s.handleUnreadCount())
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
			notifications.DELETE("/:id", s.handleDelete())
			notifications.POST("/delete", s.handleBulkDelete())
			notifications.PUT("/preferences/email", s.handleEmailPreference())
			notifications.GET("/push/recent", s.handlePushRecent())
		}

		webhooks := api.Group("/webhooks")
		{
			webhooks.GET("", s.handleListWebhooks())
			webhooks.POST("", s.handleCreateWebhook())
		}

		// ドメインイベントの投入（内部API）
		internal := api.Group("/internal")
		internal.Use(middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin))
		{
			internal.POST("/events", s.handleEvent())
			internal.GET("/events", s.handleListEvents())
			internal.GET("/actions", s.handleListActions())
			internal.GET("/objects/:id/actors", s.handleObjectActors())
		}
	}

	s.router.GET("/health", s.handleHealth())

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// handleHealth はDBへの疎通を確認する。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.repo.Ping(c.Request.Context()); err != nil {
			s.logger.WarnContext(c.Request.Context(), "ヘルスチェックに失敗", slog.Any("error", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "notification"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	}
}

// requireUser はJWTから取り出したユーザーIDを返す。取れなければ401を返してfalse。
func requireUser(c *gin.Context) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return "", false
	}
	return userID, true
}

// internalError はエラーをログに残して500を返す。
func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.ErrorContext(c.Request.Context(), msg,
		slog.String("user_id", middleware.GetUserID(c)),
		slog.Any("error", err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
