package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nao1215/marketnotify/internal/notification"
)

const objectColumns = `notification_object_id, action_type_id, entity_id, created_at, updated_at`

// ActionByName はアクション名からアクション種別を引く。
func (s *Store) ActionByName(ctx context.Context, name string) (notification.Action, error) {
	var a notification.Action
	err := s.db.GetContext(ctx, &a,
		"SELECT action_type_id, name FROM notification_actions WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return notification.Action{}, fmt.Errorf("アクション %q: %w", name, notification.ErrActionNotFound)
	}
	if err != nil {
		return notification.Action{}, fmt.Errorf("アクション %q の取得に失敗: %w", name, err)
	}
	return a, nil
}

// ListActions はアクションカタログ全体を返す。
func (s *Store) ListActions(ctx context.Context) ([]notification.Action, error) {
	var actions []notification.Action
	if err := s.db.SelectContext(ctx, &actions,
		"SELECT action_type_id, name FROM notification_actions ORDER BY action_type_id"); err != nil {
		return nil, fmt.Errorf("アクション一覧の取得に失敗: %w", err)
	}
	return actions, nil
}

// InsertNotificationObjects は通知オブジェクトをまとめて作成し、作成後の行を返す。
func (s *Store) InsertNotificationObjects(ctx context.Context, objects []notification.NewObject) ([]notification.Object, error) {
	created := make([]notification.Object, 0, len(objects))
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, o := range objects {
			var (
				obj notification.Object
				err error
			)
			if o.Dedupe {
				obj, err = upsertDedupeObject(ctx, tx, o)
			} else {
				obj, err = insertObject(ctx, tx, o)
			}
			if err != nil {
				return err
			}
			created = append(created, obj)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func insertObject(ctx context.Context, tx *sqlx.Tx, o notification.NewObject) (notification.Object, error) {
	id := uuid.New().String()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO notification_objects (notification_object_id, action_type_id, entity_id) VALUES (?, ?, ?)",
		id, o.ActionTypeID, o.EntityID,
	); err != nil {
		return notification.Object{}, fmt.Errorf("通知オブジェクトの挿入に失敗: %w", err)
	}

	var obj notification.Object
	if err := tx.GetContext(ctx, &obj,
		"SELECT "+objectColumns+" FROM notification_objects WHERE notification_object_id = ?", id,
	); err != nil {
		return notification.Object{}, fmt.Errorf("挿入した通知オブジェクトの取得に失敗: %w", err)
	}
	return obj, nil
}

// upsertDedupeObject は(エンティティ, アクション)ごとに1つの通知オブジェクトを作成し、
// 既にあれば更新日時だけを更新して既存の行を返す。
func upsertDedupeObject(ctx context.Context, tx *sqlx.Tx, o notification.NewObject) (notification.Object, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notification_objects (notification_object_id, action_type_id, entity_id, dedupe)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (entity_id, action_type_id) WHERE dedupe = 1
		DO UPDATE SET updated_at = datetime('now')`,
		uuid.New().String(), o.ActionTypeID, o.EntityID,
	); err != nil {
		return notification.Object{}, fmt.Errorf("通知オブジェクトの挿入に失敗: %w", err)
	}

	var obj notification.Object
	if err := tx.GetContext(ctx, &obj, `
		SELECT `+objectColumns+`
		FROM notification_objects
		WHERE entity_id = ? AND action_type_id = ? AND dedupe = 1`,
		o.EntityID, o.ActionTypeID,
	); err != nil {
		return notification.Object{}, fmt.Errorf("挿入した通知オブジェクトの取得に失敗: %w", err)
	}
	return obj, nil
}

// GetNotificationObjectByEntityAndAction は(エンティティ, アクション)に対応する最新の通知オブジェクトを返す。
// 存在しない場合はnil, nilを返す。
func (s *Store) GetNotificationObjectByEntityAndAction(ctx context.Context, entityID, actionTypeID string) (*notification.Object, error) {
	var obj notification.Object
	err := s.db.GetContext(ctx, &obj, `
		SELECT `+objectColumns+`
		FROM notification_objects
		WHERE entity_id = ? AND action_type_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, entityID, actionTypeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("通知オブジェクトの取得に失敗: %w", err)
	}
	return &obj, nil
}

// UpdateNotificationObjectTimestamp は通知オブジェクトの更新日時を現在時刻にする。
func (s *Store) UpdateNotificationObjectTimestamp(ctx context.Context, objectID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notification_objects SET updated_at = datetime('now') WHERE notification_object_id = ?", objectID)
	if err != nil {
		return fmt.Errorf("通知オブジェクトの更新に失敗: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("通知オブジェクト %s: %w", objectID, ErrNotFound)
	}
	return nil
}

// InsertNotificationChanges は変更履歴を追記する。
func (s *Store) InsertNotificationChanges(ctx context.Context, changes []notification.Change) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, c := range changes {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO notification_changes (notification_object_id, actor_id) VALUES (?, ?)",
				c.ObjectID, c.ActorID,
			); err != nil {
				return fmt.Errorf("変更履歴の挿入に失敗: %w", err)
			}
		}
		return nil
	})
}

// InsertNotifications は通知行をまとめて挿入し、実際に挿入された受信者IDを返す。
// 同じオブジェクトの未読行を既に持つ受信者は一意インデックスにより挿入されない。
func (s *Store) InsertNotifications(ctx context.Context, rows []notification.NewNotification) ([]string, error) {
	var inserted []string
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO notifications (notification_id, notification_object_id, notifier_id)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING`)
		if err != nil {
			return fmt.Errorf("挿入文の準備に失敗: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			res, err := stmt.ExecContext(ctx, uuid.New().String(), r.ObjectID, r.NotifierID)
			if err != nil {
				return fmt.Errorf("通知行の挿入に失敗: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				inserted = append(inserted, r.NotifierID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// GetUnreadNotificationByUserAndObject は受信者がオブジェクトに対して持つ未読行を返す。
// 存在しない場合はnil, nilを返す。
func (s *Store) GetUnreadNotificationByUserAndObject(ctx context.Context, userID, objectID string) (*notification.Notification, error) {
	var n notification.Notification
	err := s.db.GetContext(ctx, &n, `
		SELECT notification_id, notification_object_id, notifier_id, is_read, created_at
		FROM notifications
		WHERE notifier_id = ? AND notification_object_id = ? AND is_read = 0
		LIMIT 1`, userID, objectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("未読通知の取得に失敗: %w", err)
	}
	return &n, nil
}

// ChangeActors はオブジェクトの変更履歴に記録されたアクターを記録順に返す。
func (s *Store) ChangeActors(ctx context.Context, objectID string) ([]string, error) {
	var actors []string
	if err := s.db.SelectContext(ctx, &actors,
		"SELECT actor_id FROM notification_changes WHERE notification_object_id = ? ORDER BY notification_change_id",
		objectID); err != nil {
		return nil, fmt.Errorf("変更履歴の取得に失敗: %w", err)
	}
	return actors, nil
}
