package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/marketnotify/pkg/event"
)

// ReceivedEvent は受信済みイベントの記録。
type ReceivedEvent struct {
	EventID       string    `json:"event_id" db:"event_id"`
	AggregateID   string    `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string    `json:"aggregate_type" db:"aggregate_type"`
	EventType     string    `json:"event_type" db:"event_type"`
	OccurredAt    string    `json:"occurred_at,omitempty" db:"occurred_at"`
	ReceivedAt    time.Time `json:"received_at" db:"received_at"`
}

// EventFilter は受信済みイベント一覧の絞り込み条件。空のフィールドは条件にしない。
type EventFilter struct {
	AggregateID string
	EventType   string
	// Limit は最大件数。0以下なら50件。
	Limit int
}

// RecordEvent はイベントを受信済みとして記録する。
// 同じIDが既に記録されていればfalseを返す。
func (s *Store) RecordEvent(ctx context.Context, ev *event.Event) (bool, error) {
	var occurred string
	if !ev.CreatedAt.IsZero() {
		occurred = ev.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO received_events (event_id, aggregate_id, aggregate_type, event_type, occurred_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.ID, ev.AggregateID, string(ev.AggregateType), string(ev.EventType), occurred)
	if err != nil {
		return false, fmt.Errorf("イベント %s の記録に失敗: %w", ev.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("イベント %s の記録結果の取得に失敗: %w", ev.ID, err)
	}
	return n == 1, nil
}

// ForgetEvent はイベントの受信記録を消す。処理に失敗したイベントを再送で受け直すために使う。
func (s *Store) ForgetEvent(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM received_events WHERE event_id = ?", eventID); err != nil {
		return fmt.Errorf("イベント %s の記録の削除に失敗: %w", eventID, err)
	}
	return nil
}

// ListReceivedEvents は受信済みイベントを新しい順に返す。
func (s *Store) ListReceivedEvents(ctx context.Context, f EventFilter) ([]ReceivedEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT event_id, aggregate_id, aggregate_type, event_type, occurred_at, received_at
		FROM received_events WHERE 1 = 1`
	var args []any
	if f.AggregateID != "" {
		query += " AND aggregate_id = ?"
		args = append(args, f.AggregateID)
	}
	if f.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, f.EventType)
	}
	query += " ORDER BY received_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	events := []ReceivedEvent{}
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("受信済みイベントの取得に失敗: %w", err)
	}
	return events, nil
}
