package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nao1215/marketnotify/internal/notification"
)

// ロール。
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User は受信者解決とメール配信に使うユーザー情報。
type User struct {
	UserID string `json:"user_id" db:"user_id"`
	Email  string `json:"email" db:"email"`
	Role   string `json:"role" db:"role"`
}

// Member はコントラクターのメンバーと権限フラグ。
type Member struct {
	ContractorID string `json:"contractor_id" db:"contractor_id"`
	UserID       string `json:"user_id" db:"user_id"`
	ManageOrders bool   `json:"manage_orders" db:"manage_orders"`
	ManageMarket bool   `json:"manage_market" db:"manage_market"`
}

// UpsertUser はユーザー情報を作成または更新する。
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	if u.Role == "" {
		u.Role = RoleUser
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, email, role) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			email = excluded.email,
			role = excluded.role,
			updated_at = datetime('now')`,
		u.UserID, u.Email, u.Role)
	if err != nil {
		return fmt.Errorf("ユーザー %s の保存に失敗: %w", u.UserID, err)
	}
	return nil
}

// UpsertMember はコントラクターメンバーを作成または更新する。
func (s *Store) UpsertMember(ctx context.Context, m Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contractor_members (contractor_id, user_id, manage_orders, manage_market)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (contractor_id, user_id) DO UPDATE SET
			manage_orders = excluded.manage_orders,
			manage_market = excluded.manage_market`,
		m.ContractorID, m.UserID, m.ManageOrders, m.ManageMarket)
	if err != nil {
		return fmt.Errorf("メンバー %s/%s の保存に失敗: %w", m.ContractorID, m.UserID, err)
	}
	return nil
}

// RemoveMember はコントラクターメンバーを削除する。存在しなくてもエラーにしない。
func (s *Store) RemoveMember(ctx context.Context, contractorID, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM contractor_members WHERE contractor_id = ? AND user_id = ?", contractorID, userID); err != nil {
		return fmt.Errorf("メンバー %s/%s の削除に失敗: %w", contractorID, userID, err)
	}
	return nil
}

// MembersWithPermission は権限フラグを持つコントラクターメンバーのユーザーIDを参加順に返す。
func (s *Store) MembersWithPermission(ctx context.Context, contractorID string, perm notification.Permission) ([]string, error) {
	var column string
	switch perm {
	case notification.PermissionManageOrders:
		column = "manage_orders"
	case notification.PermissionManageMarket:
		column = "manage_market"
	default:
		return nil, fmt.Errorf("未知の権限: %s", perm)
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids,
		"SELECT user_id FROM contractor_members WHERE contractor_id = ? AND "+column+" = 1 ORDER BY joined_at, rowid",
		contractorID); err != nil {
		return nil, fmt.Errorf("メンバーの取得に失敗: %w", err)
	}
	return ids, nil
}

// IsMember はユーザーがコントラクターのメンバーかどうかを返す。
func (s *Store) IsMember(ctx context.Context, contractorID, userID string) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM contractor_members WHERE contractor_id = ? AND user_id = ?",
		contractorID, userID); err != nil {
		return false, fmt.Errorf("メンバーの確認に失敗: %w", err)
	}
	return count > 0, nil
}

// ResolveAlertTargets は管理者アラートの配信対象ユーザーIDを返す。
func (s *Store) ResolveAlertTargets(ctx context.Context, alert notification.AdminAlert) ([]string, error) {
	var (
		query string
		args  []any
	)
	switch alert.TargetType {
	case notification.AlertTargetAllUsers:
		query = "SELECT user_id FROM users ORDER BY rowid"
	case notification.AlertTargetAdmins:
		query = "SELECT user_id FROM users WHERE role = ? ORDER BY rowid"
		args = []any{RoleAdmin}
	case notification.AlertTargetContractorMembers, notification.AlertTargetContractorAdmins:
		if alert.TargetContractorID == "" {
			return nil, fmt.Errorf("配信対象 %s にはコントラクターIDが必要です", alert.TargetType)
		}
		query = "SELECT user_id FROM contractor_members WHERE contractor_id = ?"
		if alert.TargetType == notification.AlertTargetContractorAdmins {
			query += " AND manage_orders = 1"
		}
		query += " ORDER BY joined_at, rowid"
		args = []any{alert.TargetContractorID}
	default:
		return nil, fmt.Errorf("未知の配信対象: %q", alert.TargetType)
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("配信対象の取得に失敗: %w", err)
	}
	return ids, nil
}

// UpsertOrder は注文情報を作成または更新する。
func (s *Store) UpsertOrder(ctx context.Context, o notification.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, customer_id, assigned_id, contractor_id, title, status, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id) DO UPDATE SET
			customer_id = excluded.customer_id,
			assigned_id = excluded.assigned_id,
			contractor_id = excluded.contractor_id,
			title = excluded.title,
			status = excluded.status,
			cost = excluded.cost,
			updated_at = datetime('now')`,
		o.OrderID, o.CustomerID, o.AssignedID, o.ContractorID, o.Title, o.Status, o.Cost)
	if err != nil {
		return fmt.Errorf("注文 %s の保存に失敗: %w", o.OrderID, err)
	}
	return nil
}

// GetOrder は注文を取得する。存在しない場合はErrNotFoundを返す。
func (s *Store) GetOrder(ctx context.Context, orderID string) (*notification.Order, error) {
	var o notification.Order
	err := s.db.GetContext(ctx, &o, `
		SELECT order_id, customer_id, assigned_id, contractor_id, title, status, cost
		FROM orders WHERE order_id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("注文 %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("注文 %s の取得に失敗: %w", orderID, err)
	}
	return &o, nil
}
