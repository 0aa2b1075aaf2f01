package eventstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nao1215/storefront/pkg/event"
	"github.com/nao1215/storefront/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// DefaultLimit は件数指定が無い場合に返す最大件数。
const DefaultLimit = 50

// timeLayout はcreated_atの保存形式。文字列比較で時刻順になるよう桁数を固定する。
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store はセッションイベントをSQLiteに記録する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// Open はpathのSQLiteファイルを開き、スキーマを適用したStoreを返す。
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New は既存のDB接続からStoreを生成する。
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{db: db}, nil
}

// Close はDB接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Append はイベントを追記する。同じIDのイベントは1度しか記録しない。
func (s *Store) Append(ctx context.Context, e *event.Event) error {
	if e == nil || e.ID == "" {
		return errors.New("イベントIDが空です")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO session_events (id, event_type, data, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING",
		e.ID, string(e.Type), string(e.Data), e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("イベントの追記に失敗: %w", err)
	}
	return nil
}

// Recorder はBusに登録するHandlerを返す。
// 記録に失敗してもゲートウェイの処理は止めず、ログに残す。
func (s *Store) Recorder(ctx context.Context) event.Handler {
	return func(e *event.Event) {
		if err := s.Append(ctx, e); err != nil {
			log.Printf("[EventStore] %v: type=%s", err, e.Type)
		}
	}
}

// List は新しい順に最大limit件のイベントを返す。limitが0以下の場合はDefaultLimit。
func (s *Store) List(ctx context.Context, limit int) ([]*event.Event, error) {
	return s.query(ctx,
		"SELECT id, event_type, data, created_at FROM session_events ORDER BY seq DESC LIMIT ?",
		normalizeLimit(limit))
}

// ListByType は指定種別のイベントを新しい順に最大limit件返す。
func (s *Store) ListByType(ctx context.Context, eventType event.Type, limit int) ([]*event.Event, error) {
	return s.query(ctx,
		"SELECT id, event_type, data, created_at FROM session_events WHERE event_type = ? ORDER BY seq DESC LIMIT ?",
		string(eventType), normalizeLimit(limit))
}

// Since はsince以降に作成されたイベントを古い順に返す。
func (s *Store) Since(ctx context.Context, since time.Time) ([]*event.Event, error) {
	return s.query(ctx,
		"SELECT id, event_type, data, created_at FROM session_events WHERE created_at >= ? ORDER BY seq ASC",
		since.UTC().Format(timeLayout))
}

// query はイベントを取得する共通処理。
func (s *Store) query(ctx context.Context, q string, args ...any) ([]*event.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		var (
			e                     event.Event
			eventType, data, when string
		)
		if err := rows.Scan(&e.ID, &eventType, &data, &when); err != nil {
			return nil, fmt.Errorf("イベントの読み取りに失敗: %w", err)
		}
		createdAt, err := time.Parse(timeLayout, when)
		if err != nil {
			return nil, fmt.Errorf("イベント日時の解析に失敗: %w", err)
		}
		e.Type = event.Type(eventType)
		e.Data = []byte(data)
		e.CreatedAt = createdAt
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	return events, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
