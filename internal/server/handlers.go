package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/marketnotify/internal/delivery/push"
	"github.com/nao1215/marketnotify/internal/ingest"
	"github.com/nao1215/marketnotify/internal/notification"
	"github.com/nao1215/marketnotify/internal/store"
	"github.com/nao1215/marketnotify/pkg/event"
)

// maxEventBytes は内部APIで受け付けるイベント本文の上限。
const maxEventBytes = 1 << 20

// listQuery は通知一覧のクエリパラメータ。
type listQuery struct {
	Limit  int  `form:"limit" binding:"min=0,max=200"`
	Offset int  `form:"offset" binding:"min=0"`
	Unread bool `form:"unread"`
}

// listResponse は通知一覧のレスポンス。
type listResponse struct {
	Notifications []store.InboxItem `json:"notifications"`
	UnreadCount   int               `json:"unread_count"`
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q listQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("クエリが不正です: %v", err)})
			return
		}
		s.list(c, store.ListOptions{UnreadOnly: q.Unread, Limit: q.Limit, Offset: q.Offset})
	}
}

// handleListUnread は未読通知だけを返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q listQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("クエリが不正です: %v", err)})
			return
		}
		s.list(c, store.ListOptions{UnreadOnly: true, Limit: q.Limit, Offset: q.Offset})
	}
}

func (s *Server) list(c *gin.Context, opts store.ListOptions) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	items, err := s.repo.ListNotifications(ctx, userID, opts)
	if err != nil {
		s.internalError(c, "通知一覧の取得に失敗しました", err)
		return
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		s.internalError(c, "未読数の取得に失敗しました", err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Notifications: items, UnreadCount: unread})
}

// handleUnreadCount は未読数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		n, err := s.repo.CountUnread(c.Request.Context(), userID)
		if err != nil {
			s.internalError(c, "未読数の取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"unread_count": n})
	}
}

// ownedError は所有者確認の失敗を404または403に変換する。該当しなければfalse。
func ownedError(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
	case errors.Is(err, store.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
	default:
		return false
	}
	return true
}

// handleMarkAsRead は指定した通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		if err := s.repo.MarkAsRead(c.Request.Context(), userID, c.Param("id")); err != nil {
			if !ownedError(c, err) {
				s.internalError(c, "通知の既読処理に失敗しました", err)
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は全ての未読通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		n, err := s.repo.MarkAllAsRead(c.Request.Context(), userID)
		if err != nil {
			s.internalError(c, "全通知の既読処理に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました", "updated": n})
	}
}

// handleDelete は指定した通知を削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		if err := s.repo.DeleteNotification(c.Request.Context(), userID, c.Param("id")); err != nil {
			if !ownedError(c, err) {
				s.internalError(c, "通知の削除に失敗しました", err)
			}
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// bulkDeleteRequest は一括削除のリクエスト。
type bulkDeleteRequest struct {
	NotificationIDs []string `json:"notification_ids" binding:"required,min=1,max=500,dive,required"`
}

// handleBulkDelete は自分の通知のうち指定したものをまとめて削除するハンドラ。
// 他人の通知や存在しないIDは黙って無視する。
func (s *Server) handleBulkDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		var req bulkDeleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		n, err := s.repo.DeleteNotifications(c.Request.Context(), userID, req.NotificationIDs)
		if err != nil {
			s.internalError(c, "通知の一括削除に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	}
}

// emailPreferenceRequest はメール通知設定の更新リクエスト。
type emailPreferenceRequest struct {
	// Action は対象のアクション名。空なら全アクション。
	Action  string `json:"action"`
	Enabled *bool  `json:"enabled" binding:"required"`
}

// handleEmailPreference はアクションごとのメール通知設定を更新するハンドラ。
func (s *Server) handleEmailPreference() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		var req emailPreferenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		ctx := c.Request.Context()

		action := req.Action
		if action == "" {
			action = store.AllActions
		}
		if action != store.AllActions {
			if _, err := s.repo.ActionByName(ctx, action); err != nil {
				if errors.Is(err, notification.ErrActionNotFound) {
					c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未知のアクションです: %s", action)})
					return
				}
				s.internalError(c, "アクションの確認に失敗しました", err)
				return
			}
		}

		if err := s.repo.SetEmailPreference(ctx, userID, action, *req.Enabled); err != nil {
			s.internalError(c, "メール設定の保存に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"action": action, "enabled": *req.Enabled})
	}
}

// pushQuery はプッシュ履歴のクエリパラメータ。
type pushQuery struct {
	Limit int64 `form:"limit" binding:"min=0,max=100"`
}

// handlePushRecent はRedisに保持された直近のプッシュを返すハンドラ。
// リアルタイム購読を取りこぼしたクライアントの再取得に使う。
func (s *Server) handlePushRecent() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		if s.push == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "プッシュ配信が無効です"})
			return
		}
		var q pushQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("クエリが不正です: %v", err)})
			return
		}
		msgs, err := push.Recent(c.Request.Context(), s.push, userID, q.Limit)
		if err != nil {
			s.internalError(c, "プッシュ履歴の取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	}
}

// handleListWebhooks はユーザーと所属コントラクターのWebhookを返すハンドラ。
func (s *Server) handleListWebhooks() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		hooks, err := s.repo.ListWebhooks(c.Request.Context(), userID)
		if err != nil {
			s.internalError(c, "Webhook一覧の取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"webhooks": hooks})
	}
}

// createWebhookRequest はWebhook登録のリクエスト。
type createWebhookRequest struct {
	URL string `json:"url" binding:"required"`
	// ContractorID を指定するとコントラクターのWebhookとして登録する。
	ContractorID string   `json:"contractor_id"`
	EventTypes   []string `json:"event_types"`
	// Secret が空なら生成する。
	Secret string `json:"secret"`
}

// handleCreateWebhook はWebhook購読を登録するハンドラ。
// 署名用の秘密鍵はこのレスポンスでだけ返す。
func (s *Server) handleCreateWebhook() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		var req createWebhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "URLはhttpまたはhttpsの絶対URLで指定してください"})
			return
		}
		ctx := c.Request.Context()

		for _, name := range req.EventTypes {
			if _, err := s.repo.ActionByName(ctx, name); err != nil {
				if errors.Is(err, notification.ErrActionNotFound) {
					c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未知のアクションです: %s", name)})
					return
				}
				s.internalError(c, "アクションの確認に失敗しました", err)
				return
			}
		}

		hook := store.Webhook{URL: req.URL, EventTypes: req.EventTypes, Secret: req.Secret}
		if req.ContractorID != "" {
			member, err := s.repo.IsMember(ctx, req.ContractorID, userID)
			if err != nil {
				s.internalError(c, "所属の確認に失敗しました", err)
				return
			}
			if !member {
				c.JSON(http.StatusForbidden, gin.H{"error": "このコントラクターのWebhookを登録する権限がありません"})
				return
			}
			hook.OwnerContractorID = req.ContractorID
		} else {
			hook.OwnerUserID = userID
		}
		if hook.Secret == "" {
			hook.Secret = uuid.NewString()
		}

		created, err := s.repo.CreateWebhook(ctx, hook)
		if err != nil {
			s.internalError(c, "Webhookの登録に失敗しました", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"webhook": created, "secret": created.Secret})
	}
}

// handleEvent は内部サービスからドメインイベントを受け取り、通知処理へ渡すハンドラ。
func (s *Server) handleEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "本文の読み込みに失敗しました"})
			return
		}
		if len(body) > maxEventBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "イベントが大きすぎます"})
			return
		}
		ev, err := event.Parse(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := s.events.Handle(c.Request.Context(), ev); err != nil {
			if errors.Is(err, ingest.ErrUnknownEventType) || errors.Is(err, ingest.ErrInvalidEvent) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			s.internalError(c, "イベントの処理に失敗しました", err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"event_id": ev.ID, "event_type": ev.EventType})
	}
}

// eventsQuery は受信済みイベント一覧のクエリパラメータ。
type eventsQuery struct {
	AggregateID string `form:"aggregate_id"`
	EventType   string `form:"event_type"`
	Limit       int    `form:"limit" binding:"min=0,max=500"`
}

// handleListEvents は受信済みイベントを新しい順に返すハンドラ。
// イベントが届いたかどうかの調査に使う。
func (s *Server) handleListEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q eventsQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("クエリが不正です: %v", err)})
			return
		}
		events, err := s.repo.ListReceivedEvents(c.Request.Context(), store.EventFilter{
			AggregateID: q.AggregateID,
			EventType:   q.EventType,
			Limit:       q.Limit,
		})
		if err != nil {
			s.internalError(c, "受信済みイベントの取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

// handleListActions はアクションカタログを返すハンドラ。
func (s *Server) handleListActions() gin.HandlerFunc {
	return func(c *gin.Context) {
		actions, err := s.repo.ListActions(c.Request.Context())
		if err != nil {
			s.internalError(c, "アクション一覧の取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"actions": actions})
	}
}

// handleObjectActors は通知オブジェクトの変更履歴のアクターを記録順に返すハンドラ。
// 同じアクターが複数回変更していればその回数だけ含まれる。
func (s *Server) handleObjectActors() gin.HandlerFunc {
	return func(c *gin.Context) {
		objectID := c.Param("id")
		actors, err := s.repo.ChangeActors(c.Request.Context(), objectID)
		if err != nil {
			s.internalError(c, "変更履歴の取得に失敗しました", err)
			return
		}
		if len(actors) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "変更履歴がありません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"object_id": objectID, "actors": actors})
	}
}
