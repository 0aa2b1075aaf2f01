package devbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/storefront/pkg/middleware"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTSecret はテスト用のJWT署名秘密鍵。
const testJWTSecret = "test-secret-key"

// newTestServer はテスト用のサーバーを一時ディレクトリのSQLiteで生成する。
func newTestServer(t *testing.T, rotate bool) *Server {
	t.Helper()

	s, err := NewServer(context.Background(), Config{
		JWTSecret:     testJWTSecret,
		DBPath:        filepath.Join(t.TempDir(), "devbackend.db"),
		RotateRefresh: rotate,
		BcryptCost:    bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewServer()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// doRequest はテスト用にJSONリクエストを送信する。
func doRequest(t *testing.T, s *Server, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("リクエストボディのシリアライズに失敗: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// decodePair はレスポンスボディをtokenPairとして読み取る。
func decodePair(t *testing.T, w *httptest.ResponseRecorder) tokenPair {
	t.Helper()

	var p tokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v", err)
	}
	return p
}

// registerUser はテスト用のユーザーを登録してトークンを返す。
func registerUser(t *testing.T, s *Server, username string) tokenPair {
	t.Helper()

	w := doRequest(t, s, http.MethodPost, "/api/token/register/", map[string]string{
		"username": username, "password": "password123", "email": username + "@example.com",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("会員登録に失敗: status=%d, body=%s", w.Code, w.Body.String())
	}
	return decodePair(t, w)
}

// TestNewServer はNewServer関数を検証する。
func TestNewServer(t *testing.T) {
	t.Parallel()

	t.Run("署名鍵が無い場合はエラーが返ること", func(t *testing.T) {
		t.Parallel()

		_, err := NewServer(context.Background(), Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
		if err == nil {
			t.Fatal("NewServer()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("TTLの既定値が補完されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, false)
		if s.cfg.AccessTTL != DefaultAccessTTL {
			t.Errorf("AccessTTL = %v, want %v", s.cfg.AccessTTL, DefaultAccessTTL)
		}
		if s.cfg.RefreshTTL != DefaultRefreshTTL {
			t.Errorf("RefreshTTL = %v, want %v", s.cfg.RefreshTTL, DefaultRefreshTTL)
		}
	})

	t.Run("ヘルスチェックが200を返すこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, false)
		w := doRequest(t, s, http.MethodGet, "/health", nil, "")
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})
}

// TestHandleRegister は会員登録エンドポイントを検証する。
func TestHandleRegister(t *testing.T) {
	t.Parallel()

	t.Run("登録に成功すると201とトークンが返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, false)
		pair := registerUser(t, s, "alice")
		if pair.Access == "" || pair.Refresh == "" {
			t.Fatalf("トークンが空: %+v", pair)
		}
		claims, err := middleware.ParseJWT(testJWTSecret, pair.Access, middleware.TokenTypeAccess)
		if err != nil {
			t.Fatalf("アクセストークンの検証に失敗: %v", err)
		}
		if claims.Username != "alice" {
			t.Errorf("Username = %q, want %q", claims.Username, "alice")
		}
	})

	t.Run("登録済みのユーザー名では409が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, false)
		registerUser(t, s, "alice")
		w := doRequest(t, s, http.MethodPost, "/api/token/register/", map[string]string{
			"username": "alice", "password": "password456",
		}, "")
		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("パスワードが短い場合やメールアドレスが不正な場合は400が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, false)
		for _, body := range []map[string]string{
			{"username": "bob", "password": "short"},
			{"username": "bob", "password": "password123", "email": "not-an-email"},
			{"password": "password123"},
		} {
			w := doRequest(t, s, http.MethodPost, "/api/token/register/", body, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("body=%v: ステータスコード = %d, want %d", body, w.Code, http.StatusBadRequest)
			}
		}
	})
}

// TestHandleLogin はログインエンドポイントを検証する。
func TestHandleLogin(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, false)
	registerUser(t, s, "alice")

	t.Run("正しいパスワードでトークンが返ること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(t, s, http.MethodPost, "/api/token/", map[string]string{
			"username": "alice", "password": "password123",
		}, "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if p := decodePair(t, w); p.Access == "" || p.Refresh == "" {
			t.Errorf("トークンが空: %+v", p)
		}
	})

	t.Run("パスワード違いや未登録ユーザーでは401が返ること", func(t *testing.T) {
		t.Parallel()

		for _, body := range []map[string]string{
			{"username": "alice", "password": "wrong-password"},
			{"username": "nobody", "password": "password123"},
		} {
			w := doRequest(t, s, http.MethodPost, "/api/token/", body, "")
			if w.Code != http.StatusUnauthorized {
				t.Errorf("body=%v: ステータスコード = %d, want %d", body, w.Code, http.StatusUnauthorized)
			}
		}
	})
}

// TestHandleRefresh はリフレッシュエンドポイントを検証する。
func TestHandleRefresh(t *testing.T) {
	t.Parallel()

	t.Run("ローテーション有効時は新しいリフレッシュトークンが返り古いものは失効すること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, true)
		initial := registerUser(t, s, "alice")

		w := doRequest(t, s, http.MethodPost, "/api/token/refresh/", map[string]string{"refresh": initial.Refresh}, "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		next := decodePair(t, w)
		if next.Access == "" || next.Refresh == "" || next.Refresh == initial.Refresh {
			t.Fatalf("ローテーションされていない: %+v", next)
		}

		// 古いリフレッシュトークンの再利用は拒否される
		w = doRequest(t, s, http.MethodPost, "/api/token/refresh/", map[string]string{"refresh": initial.Refresh}, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("再利用時のステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}

		w = doRequest(t, s, http.MethodPost, "/api/token/refresh/", map[string]string{"refresh": next.Refresh}, "")
		if w.Code != http.StatusOK {
			t.Errorf("新しいトークンでのステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("ローテーション無効時はアクセストークンのみ返り同じトークンを繰り返し使えること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, false)
		initial := registerUser(t, s, "alice")

		for i := range 2 {
			w := doRequest(t, s, http.MethodPost, "/api/token/refresh/", map[string]string{"refresh": initial.Refresh}, "")
			if w.Code != http.StatusOK {
				t.Fatalf("%d回目: ステータスコード = %d, want %d", i+1, w.Code, http.StatusOK)
			}
			p := decodePair(t, w)
			if p.Access == "" || p.Refresh != "" {
				t.Errorf("%d回目: レスポンス = %+v", i+1, p)
			}
		}
	})

	t.Run("アクセストークンや不正なトークンでは401が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, true)
		initial := registerUser(t, s, "alice")

		for _, token := range []string{initial.Access, "not-a-jwt"} {
			w := doRequest(t, s, http.MethodPost, "/api/token/refresh/", map[string]string{"refresh": token}, "")
			if w.Code != http.StatusUnauthorized {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		}
	})

	t.Run("記録されていないリフレッシュトークンでは401が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, false)
		forged, _, err := middleware.GenerateJWT(testJWTSecret, middleware.TokenTypeRefresh, "user-x", "x", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}
		w := doRequest(t, s, http.MethodPost, "/api/token/refresh/", map[string]string{"refresh": forged}, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestHandleLogout はログアウトエンドポイントを検証する。
func TestHandleLogout(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, false)
	initial := registerUser(t, s, "alice")

	w := doRequest(t, s, http.MethodPost, "/api/token/logout/", map[string]string{"refresh": initial.Refresh}, "")
	if w.Code != http.StatusResetContent {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusResetContent)
	}

	w = doRequest(t, s, http.MethodPost, "/api/token/refresh/", map[string]string{"refresh": initial.Refresh}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("ログアウト後のリフレッシュ: ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// 2回目のログアウトも成功扱い
	w = doRequest(t, s, http.MethodPost, "/api/token/logout/", map[string]string{"refresh": initial.Refresh}, "")
	if w.Code != http.StatusResetContent {
		t.Errorf("2回目のログアウト: ステータスコード = %d, want %d", w.Code, http.StatusResetContent)
	}
}

// TestHandleGetCurrentUser は/api/v1/meを検証する。
func TestHandleGetCurrentUser(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, false)
	initial := registerUser(t, s, "alice")

	t.Run("アクセストークンでユーザー情報が返ること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(t, s, http.MethodGet, "/api/v1/me", nil, initial.Access)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body["username"] != "alice" || body["email"] != "alice@example.com" {
			t.Errorf("レスポンス = %v", body)
		}
	})

	t.Run("リフレッシュトークンやトークン無しでは401が返ること", func(t *testing.T) {
		t.Parallel()

		for _, bearer := range []string{initial.Refresh, ""} {
			w := doRequest(t, s, http.MethodGet, "/api/v1/me", nil, bearer)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		}
	})
}

// TestPurgeExpiredRefreshTokens は期限切れトークンの削除を検証する。
func TestPurgeExpiredRefreshTokens(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, false)
	ctx := context.Background()
	registerUser(t, s, "alice")

	u, err := s.getUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("getUserByUsername()でエラーが発生: %v", err)
	}
	if err := s.recordRefreshToken(ctx, "expired-jti", u.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("recordRefreshToken()でエラーが発生: %v", err)
	}

	n, err := s.purgeExpiredRefreshTokens(ctx, time.Now())
	if err != nil {
		t.Fatalf("purgeExpiredRefreshTokens()でエラーが発生: %v", err)
	}
	if n != 1 {
		t.Errorf("削除件数 = %d, want 1", n)
	}
	if err := s.checkRefreshToken(ctx, "expired-jti"); err != errTokenRevoked {
		t.Errorf("checkRefreshToken() = %v, want errTokenRevoked", err)
	}
}
