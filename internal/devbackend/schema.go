package devbackend

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/nao1215/storefront/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// openDB はpathのSQLiteファイルを開く。
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	return db, nil
}

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
