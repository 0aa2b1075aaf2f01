package credential

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

// newTestSQLiteStore はテスト用の一時ファイルを使うSQLiteStoreを生成する。
func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "credential.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testStores は同じ振る舞いを検証する対象のStore実装を返す。
func testStores(t *testing.T) map[string]Store {
	t.Helper()

	return map[string]Store{
		"MemoryStore": NewMemoryStore(),
		"SQLiteStore": newTestSQLiteStore(t),
	}
}

// TestStore はStore実装の共通の振る舞いを検証する。
func TestStore(t *testing.T) {
	t.Parallel()

	t.Run("未保存の場合にErrNotFoundが返ること", func(t *testing.T) {
		t.Parallel()

		for name, s := range testStores(t) {
			if _, err := s.Load(context.Background()); !errors.Is(err, ErrNotFound) {
				t.Errorf("%s: Load() error = %v, want ErrNotFound", name, err)
			}
		}
	})

	t.Run("保存した認証情報を読み出せること", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		for name, s := range testStores(t) {
			want := Pair{AccessToken: "access-1", RefreshToken: "refresh-1"}
			if err := s.Save(ctx, want); err != nil {
				t.Fatalf("%s: Save()でエラーが発生: %v", name, err)
			}
			got, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("%s: Load()でエラーが発生: %v", name, err)
			}
			if got != want {
				t.Errorf("%s: Load() = %+v, want %+v", name, got, want)
			}
		}
	})

	t.Run("Saveは認証情報を丸ごと置き換えること", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		for name, s := range testStores(t) {
			if err := s.Save(ctx, Pair{AccessToken: "old-access", RefreshToken: "old-refresh"}); err != nil {
				t.Fatalf("%s: Save()でエラーが発生: %v", name, err)
			}
			want := Pair{AccessToken: "new-access"}
			if err := s.Save(ctx, want); err != nil {
				t.Fatalf("%s: Save()でエラーが発生: %v", name, err)
			}
			got, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("%s: Load()でエラーが発生: %v", name, err)
			}
			if got != want {
				t.Errorf("%s: Load() = %+v, want %+v", name, got, want)
			}
		}
	})

	t.Run("Clear後はErrNotFoundが返ること", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		for name, s := range testStores(t) {
			if err := s.Save(ctx, Pair{AccessToken: "a", RefreshToken: "r"}); err != nil {
				t.Fatalf("%s: Save()でエラーが発生: %v", name, err)
			}
			if err := s.Clear(ctx); err != nil {
				t.Fatalf("%s: Clear()でエラーが発生: %v", name, err)
			}
			if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
				t.Errorf("%s: Load() error = %v, want ErrNotFound", name, err)
			}
			// 未保存の状態でClearしてもエラーにならない
			if err := s.Clear(ctx); err != nil {
				t.Errorf("%s: 2回目のClear()でエラーが発生: %v", name, err)
			}
		}
	})

	t.Run("アクセストークンが空のPairは保存できないこと", func(t *testing.T) {
		t.Parallel()

		for name, s := range testStores(t) {
			err := s.Save(context.Background(), Pair{RefreshToken: "only-refresh"})
			if !errors.Is(err, ErrEmptyAccessToken) {
				t.Errorf("%s: Save() error = %v, want ErrEmptyAccessToken", name, err)
			}
		}
	})
}

// TestSQLiteStore_Persistence はSQLiteStoreが再オープン後も認証情報を保持することを検証する。
func TestSQLiteStore_Persistence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	s1, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore()でエラーが発生: %v", err)
	}
	want := Pair{AccessToken: "persisted-access", RefreshToken: "persisted-refresh"}
	if err := s1.Save(ctx, want); err != nil {
		t.Fatalf("Save()でエラーが発生: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close()でエラーが発生: %v", err)
	}

	s2, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("再オープンでエラーが発生: %v", err)
	}
	defer s2.Close()

	got, err := s2.Load(ctx)
	if err != nil {
		t.Fatalf("Load()でエラーが発生: %v", err)
	}
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

// TestMemoryStore_Concurrent はMemoryStoreへの並行アクセスを検証する。
func TestMemoryStore_Concurrent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Save(ctx, Pair{AccessToken: "a", RefreshToken: "r"})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Load(ctx)
		}()
	}
	wg.Wait()

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load()でエラーが発生: %v", err)
	}
	if got.AccessToken != "a" {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, "a")
	}
}
