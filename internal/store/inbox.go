package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// InboxItem は受信箱に表示する通知1件。
type InboxItem struct {
	// NotificationID は通知行の識別子。
	NotificationID string `json:"notification_id" db:"notification_id"`
	// ObjectID は通知オブジェクトの識別子。
	ObjectID string `json:"notification_object_id" db:"notification_object_id"`
	// Action はアクション名。
	Action string `json:"action" db:"action"`
	// EntityID は対象エンティティの識別子。
	EntityID string `json:"entity_id" db:"entity_id"`
	// Actors はオブジェクトに関わったアクターの一覧（重複なし）。
	Actors []string `json:"actors" db:"-"`
	// Read は既読状態。
	Read bool `json:"read" db:"is_read"`
	// CreatedAt は通知行の作成日時。
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	// UpdatedAt は通知オブジェクトの最終更新日時。
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// inboxRow はInboxItemの読み取り用。アクターはカンマ区切りで受け取る。
type inboxRow struct {
	InboxItem
	ActorList string `db:"actors"`
}

// ListOptions は受信箱一覧の取得条件。
type ListOptions struct {
	// UnreadOnly がtrueなら未読のみ返す。
	UnreadOnly bool
	// Limit は最大件数。0以下なら50件。
	Limit int
	// Offset は読み飛ばす件数。
	Offset int
}

const defaultListLimit = 50

// ListNotifications はユーザーの通知を新しい順に返す。
func (s *Store) ListNotifications(ctx context.Context, userID string, opts ListOptions) ([]InboxItem, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT
			n.notification_id,
			n.notification_object_id,
			a.name AS action,
			o.entity_id,
			n.is_read,
			n.created_at,
			o.updated_at,
			COALESCE((
				SELECT group_concat(DISTINCT c.actor_id)
				FROM notification_changes c
				WHERE c.notification_object_id = o.notification_object_id AND c.actor_id <> ''
			), '') AS actors
		FROM notifications n
		JOIN notification_objects o ON o.notification_object_id = n.notification_object_id
		JOIN notification_actions a ON a.action_type_id = o.action_type_id
		WHERE n.notifier_id = ?`
	if opts.UnreadOnly {
		query += " AND n.is_read = 0"
	}
	query += " ORDER BY o.updated_at DESC, n.rowid DESC LIMIT ? OFFSET ?"

	var rows []inboxRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, limit, opts.Offset); err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	items := make([]InboxItem, 0, len(rows))
	for _, r := range rows {
		item := r.InboxItem
		item.Actors = []string{}
		if r.ActorList != "" {
			item.Actors = strings.Split(r.ActorList, ",")
		}
		items = append(items, item)
	}
	return items, nil
}

// CountUnread はユーザーの未読通知数を返す。
func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE notifier_id = ? AND is_read = 0", userID); err != nil {
		return 0, fmt.Errorf("未読数の取得に失敗: %w", err)
	}
	return count, nil
}

// checkOwner は通知行の所有者がuserIDであることを確認する。
func (s *Store) checkOwner(ctx context.Context, userID, notificationID string) error {
	var owner string
	err := s.db.GetContext(ctx, &owner,
		"SELECT notifier_id FROM notifications WHERE notification_id = ?", notificationID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("通知 %s: %w", notificationID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("通知の取得に失敗: %w", err)
	}
	if owner != userID {
		return ErrForbidden
	}
	return nil
}

// MarkAsRead は自分の通知1件を既読にする。
func (s *Store) MarkAsRead(ctx context.Context, userID, notificationID string) error {
	if err := s.checkOwner(ctx, userID, notificationID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE notification_id = ?", notificationID); err != nil {
		return fmt.Errorf("既読更新に失敗: %w", err)
	}
	return nil
}

// MarkAllAsRead はユーザーの未読通知をすべて既読にし、更新件数を返す。
func (s *Store) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE notifier_id = ? AND is_read = 0", userID)
	if err != nil {
		return 0, fmt.Errorf("一括既読更新に失敗: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteNotification は自分の通知1件を削除する。
func (s *Store) DeleteNotification(ctx context.Context, userID, notificationID string) error {
	if err := s.checkOwner(ctx, userID, notificationID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE notification_id = ?", notificationID); err != nil {
		return fmt.Errorf("通知の削除に失敗: %w", err)
	}
	return nil
}

// DeleteNotifications は指定IDのうち自分の通知だけを削除し、削除件数を返す。
func (s *Store) DeleteNotifications(ctx context.Context, userID string, notificationIDs []string) (int64, error) {
	if len(notificationIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		"DELETE FROM notifications WHERE notifier_id = ? AND notification_id IN (?)", userID, notificationIDs)
	if err != nil {
		return 0, fmt.Errorf("削除クエリの組み立てに失敗: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("通知の一括削除に失敗: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
