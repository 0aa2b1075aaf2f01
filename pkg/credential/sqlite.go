package credential

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nao1215/storefront/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// SQLiteStore はSQLiteのkv_storeテーブルに認証情報を保持するStore。
type SQLiteStore struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// key は認証情報を保存する行のキー。
	key string
}

// OpenSQLiteStore はpathのSQLiteファイルを開き、スキーマを適用したStoreを返す。
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore は既存のDB接続からStoreを生成する。
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStore{db: db, key: StorageKey}, nil
}

// Close はDB接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (Pair, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", s.key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Pair{}, ErrNotFound
	}
	if err != nil {
		return Pair{}, fmt.Errorf("認証情報の読み込みに失敗: %w", err)
	}

	var p Pair
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Pair{}, fmt.Errorf("認証情報のデシリアライズに失敗: %w", err)
	}
	return p, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, p Pair) error {
	if err := p.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("認証情報のシリアライズに失敗: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, s.key, string(raw))
	if err != nil {
		return fmt.Errorf("認証情報の保存に失敗: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", s.key); err != nil {
		return fmt.Errorf("認証情報の削除に失敗: %w", err)
	}
	return nil
}
