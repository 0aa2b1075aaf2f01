package credential

import (
	"context"
	"errors"
	"sync"
)

// StorageKey は認証情報を保存するキー。
const StorageKey = "authTokens"

// ErrNotFound は認証情報が保存されていないことを表す。
var ErrNotFound = errors.New("認証情報が保存されていません")

// ErrEmptyAccessToken はアクセストークンが空のPairを保存しようとしたことを表す。
var ErrEmptyAccessToken = errors.New("アクセストークンが空です")

// Pair はアクセストークンとリフレッシュトークンの組。
type Pair struct {
	// AccessToken は認証済みリクエストに付与する短命なトークン。
	AccessToken string `json:"access"`
	// RefreshToken はアクセストークンの再発行にのみ使う長命なトークン。
	RefreshToken string `json:"refresh"`
}

// Validate は保存可能なPairかどうかを検証する。
func (p Pair) Validate() error {
	if p.AccessToken == "" {
		return ErrEmptyAccessToken
	}
	return nil
}

// Store は認証情報の永続化先。
type Store interface {
	// Load は保存済みの認証情報を返す。未保存の場合はErrNotFoundを返す。
	Load(ctx context.Context) (Pair, error)
	// Save は認証情報を丸ごと置き換える。
	Save(ctx context.Context, p Pair) error
	// Clear は認証情報を削除する。未保存でもエラーにしない。
	Clear(ctx context.Context) error
}

// MemoryStore はプロセス内メモリに認証情報を保持するStore。
type MemoryStore struct {
	mu   sync.RWMutex
	pair *Pair
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context) (Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pair == nil {
		return Pair{}, ErrNotFound
	}
	return *s.pair, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, p Pair) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = &p
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	return nil
}
