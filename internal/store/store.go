// Package store は通知サービスの永続化層をSQLite（modernc.org/sqlite）とsqlxで実装する。
// 通知テーブル群、受信者解決用のディレクトリ、受信箱、メール設定、Webhook購読を扱う。
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nao1215/marketnotify/internal/notification"
	"github.com/nao1215/marketnotify/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound は対象の行が存在しないことを表す。
	ErrNotFound = errors.New("対象が見つかりません")
	// ErrForbidden は他のユーザーの行を操作しようとしたことを表す。
	ErrForbidden = errors.New("他のユーザーの通知は操作できません")
)

// Store はSQLiteに対するすべての永続化操作を提供する。
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// compile-time check
var (
	_ notification.Repository = (*Store)(nil)
	_ notification.Directory  = (*Store)(nil)
)

// Open はSQLiteデータベースを開き、未適用のマイグレーションを適用する。
// dsn が ":memory:" の場合は接続を1本に制限する（接続ごとに別DBになるため）。
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースへの疎通に失敗: %w", err)
	}

	if _, err := migration.New(db.DB, migrationsFS, "migrations", logger).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.checkCatalog(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// checkCatalog はすべての通知種別がアクションカタログに登録されていることを確認する。
func (s *Store) checkCatalog(ctx context.Context) error {
	actions, err := s.ListActions(ctx)
	if err != nil {
		return err
	}
	registered := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		registered[a.Name] = struct{}{}
	}
	var missing []string
	for _, k := range notification.Kinds() {
		if _, ok := registered[k.String()]; !ok {
			missing = append(missing, k.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("アクションカタログに未登録の種別があります %v: %w", missing, notification.ErrActionNotFound)
	}
	return nil
}

// connPragmas はプール内のすべての接続に設定するPRAGMA。
// modernc.org/sqlite はDSNの _pragma を新しい接続を開くたびに適用する。
var connPragmas = []struct{ name, value string }{
	{"foreign_keys", "1"},
	{"busy_timeout", "5000"},
}

// withPragmas はDSNに connPragmas を追加する。DSNで指定済みのPRAGMAはそのまま使う。
func withPragmas(dsn string) string {
	var params []string
	for _, p := range connPragmas {
		if strings.Contains(dsn, "_pragma="+p.name+"(") {
			continue
		}
		params = append(params, "_pragma="+p.name+"("+p.value+")")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx はトランザクション内でfnを実行する。fnがエラーを返した場合はロールバックする。
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
