package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AllActions はメール設定で全アクションを表すアクション名。
const AllActions = "*"

// EmailRecipient はユーザーのメールアドレスと、アクションに対するメール配信可否を返す。
// アドレス未登録またはユーザー未登録の場合は配信不可として扱う。
// アクション個別の設定が全体設定より優先され、設定が無ければ配信する。
func (s *Store) EmailRecipient(ctx context.Context, userID, action string) (string, bool, error) {
	var email string
	err := s.db.GetContext(ctx, &email, "SELECT email FROM users WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && email == "") {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ユーザー %s のメールアドレス取得に失敗: %w", userID, err)
	}

	var enabled bool
	err = s.db.GetContext(ctx, &enabled, `
		SELECT enabled FROM email_preferences
		WHERE user_id = ? AND action_name IN (?, ?)
		ORDER BY action_name = ? LIMIT 1`,
		userID, action, AllActions, AllActions)
	if errors.Is(err, sql.ErrNoRows) {
		return email, true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("メール設定の取得に失敗: %w", err)
	}
	return email, enabled, nil
}

// SetEmailPreference はアクション単位のメール配信可否を保存する。actionがAllActionsなら全体設定。
func (s *Store) SetEmailPreference(ctx context.Context, userID, action string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_preferences (user_id, action_name, enabled) VALUES (?, ?, ?)
		ON CONFLICT (user_id, action_name) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = datetime('now')`,
		userID, action, enabled)
	if err != nil {
		return fmt.Errorf("メール設定の保存に失敗: %w", err)
	}
	return nil
}

// Webhook はWebhook購読。所有者はユーザーかコントラクターのどちらか一方。
type Webhook struct {
	WebhookID         string    `json:"webhook_id" db:"webhook_id"`
	OwnerUserID       string    `json:"owner_user_id,omitempty" db:"owner_user_id"`
	OwnerContractorID string    `json:"owner_contractor_id,omitempty" db:"owner_contractor_id"`
	URL               string    `json:"url" db:"url"`
	Secret            string    `json:"-" db:"secret"`
	EventTypes        []string  `json:"event_types" db:"-"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Subscribes はWebhookがアクションを購読しているかを返す。購読種別が空なら全アクション。
func (w Webhook) Subscribes(action string) bool {
	return len(w.EventTypes) == 0 || slices.Contains(w.EventTypes, action)
}

type webhookRow struct {
	Webhook
	EventTypeList string `db:"event_types"`
}

func (r webhookRow) webhook() Webhook {
	w := r.Webhook
	w.EventTypes = []string{}
	if r.EventTypeList != "" {
		w.EventTypes = strings.Split(r.EventTypeList, ",")
	}
	return w
}

const webhookColumns = `webhook_id, owner_user_id, owner_contractor_id, url, secret, event_types, created_at`

// CreateWebhook はWebhook購読を登録し、登録後の内容を返す。
func (s *Store) CreateWebhook(ctx context.Context, w Webhook) (Webhook, error) {
	if (w.OwnerUserID == "") == (w.OwnerContractorID == "") {
		return Webhook{}, errors.New("Webhookの所有者はユーザーかコントラクターのどちらか一方を指定してください")
	}
	if w.WebhookID == "" {
		w.WebhookID = uuid.New().String()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO webhooks (webhook_id, owner_user_id, owner_contractor_id, url, secret, event_types)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.WebhookID, w.OwnerUserID, w.OwnerContractorID, w.URL, w.Secret, strings.Join(w.EventTypes, ","),
	); err != nil {
		return Webhook{}, fmt.Errorf("Webhookの登録に失敗: %w", err)
	}

	var row webhookRow
	if err := s.db.GetContext(ctx, &row,
		"SELECT "+webhookColumns+" FROM webhooks WHERE webhook_id = ?", w.WebhookID); err != nil {
		return Webhook{}, fmt.Errorf("登録したWebhookの取得に失敗: %w", err)
	}
	return row.webhook(), nil
}

// ListWebhooks はユーザー自身と、ユーザーが所属するコントラクターのWebhookを返す。
func (s *Store) ListWebhooks(ctx context.Context, userID string) ([]Webhook, error) {
	var rows []webhookRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE owner_user_id = ?
		   OR owner_contractor_id IN (SELECT contractor_id FROM contractor_members WHERE user_id = ?)
		ORDER BY created_at, rowid`, userID, userID); err != nil {
		return nil, fmt.Errorf("Webhook一覧の取得に失敗: %w", err)
	}
	return webhooksFromRows(rows), nil
}

// WebhooksFor はコントラクターまたはユーザーが所有し、actionを購読しているWebhookを返す。
func (s *Store) WebhooksFor(ctx context.Context, contractorID, userID, action string) ([]Webhook, error) {
	if contractorID == "" && userID == "" {
		return nil, nil
	}
	var rows []webhookRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE (owner_contractor_id <> '' AND owner_contractor_id = ?)
		   OR (owner_user_id <> '' AND owner_user_id = ?)
		ORDER BY created_at, rowid`, contractorID, userID); err != nil {
		return nil, fmt.Errorf("Webhookの取得に失敗: %w", err)
	}

	var out []Webhook
	for _, w := range webhooksFromRows(rows) {
		if w.Subscribes(action) {
			out = append(out, w)
		}
	}
	return out, nil
}

func webhooksFromRows(rows []webhookRow) []Webhook {
	out := make([]Webhook, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.webhook())
	}
	return out
}
