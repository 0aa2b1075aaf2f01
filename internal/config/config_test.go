package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// writeConfig は一時ディレクトリに設定ファイルを書き出してパスを返す。
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("設定ファイルの書き込みに失敗: %v", err)
	}
	return path
}

// 環境変数を変更するため、このファイルのテストはt.Parallelを使わない。

// TestLoadGateway はLoadGateway関数を検証する。
func TestLoadGateway(t *testing.T) {
	t.Run("何も指定しない場合は既定値が使われること", func(t *testing.T) {
		cfg, err := LoadGateway("", nil)
		if err != nil {
			t.Fatalf("LoadGateway()でエラーが発生: %v", err)
		}
		if cfg.BaseURL != "http://localhost:8000" {
			t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "http://localhost:8000")
		}
		if cfg.RefreshPath != "/api/token/refresh/" {
			t.Errorf("RefreshPath = %q, want %q", cfg.RefreshPath, "/api/token/refresh/")
		}
		if cfg.RequestTimeout != 30*time.Second {
			t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, 30*time.Second)
		}
		if cfg.RefreshTimeout != 15*time.Second {
			t.Errorf("RefreshTimeout = %v, want %v", cfg.RefreshTimeout, 15*time.Second)
		}
	})

	t.Run("設定ファイルの値が既定値を上書きすること", func(t *testing.T) {
		path := writeConfig(t, "storefront.yaml", `
base_url: https://shop.example.com
refresh_path: /auth/refresh/
refresh_timeout: 5s
`)
		cfg, err := LoadGateway(path, nil)
		if err != nil {
			t.Fatalf("LoadGateway()でエラーが発生: %v", err)
		}
		if cfg.BaseURL != "https://shop.example.com" {
			t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "https://shop.example.com")
		}
		if cfg.RefreshPath != "/auth/refresh/" {
			t.Errorf("RefreshPath = %q, want %q", cfg.RefreshPath, "/auth/refresh/")
		}
		if cfg.RefreshTimeout != 5*time.Second {
			t.Errorf("RefreshTimeout = %v, want %v", cfg.RefreshTimeout, 5*time.Second)
		}
		if cfg.LoginPath != "/api/token/" {
			t.Errorf("LoginPath = %q, want %q", cfg.LoginPath, "/api/token/")
		}
	})

	t.Run("環境変数が設定ファイルより優先されること", func(t *testing.T) {
		path := writeConfig(t, "storefront.json", `{"base_url": "https://file.example.com"}`)
		t.Setenv("STOREFRONT_BASE_URL", "https://env.example.com")
		t.Setenv("STOREFRONT_REQUEST_TIMEOUT", "45s")

		cfg, err := LoadGateway(path, nil)
		if err != nil {
			t.Fatalf("LoadGateway()でエラーが発生: %v", err)
		}
		if cfg.BaseURL != "https://env.example.com" {
			t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "https://env.example.com")
		}
		if cfg.RequestTimeout != 45*time.Second {
			t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, 45*time.Second)
		}
	})

	t.Run("フラグが環境変数より優先されること", func(t *testing.T) {
		t.Setenv("STOREFRONT_BASE_URL", "https://env.example.com")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("base-url", "", "")
		if err := flags.Parse([]string{"--base-url", "http://127.0.0.1:9000"}); err != nil {
			t.Fatalf("フラグのパースに失敗: %v", err)
		}

		cfg, err := LoadGateway("", flags)
		if err != nil {
			t.Fatalf("LoadGateway()でエラーが発生: %v", err)
		}
		if cfg.BaseURL != "http://127.0.0.1:9000" {
			t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "http://127.0.0.1:9000")
		}
	})

	t.Run("指定されなかったフラグは値を上書きしないこと", func(t *testing.T) {
		t.Setenv("STOREFRONT_BASE_URL", "https://env.example.com")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("base-url", "", "")
		if err := flags.Parse(nil); err != nil {
			t.Fatalf("フラグのパースに失敗: %v", err)
		}

		cfg, err := LoadGateway("", flags)
		if err != nil {
			t.Fatalf("LoadGateway()でエラーが発生: %v", err)
		}
		if cfg.BaseURL != "https://env.example.com" {
			t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "https://env.example.com")
		}
	})

	t.Run("不正なbase_urlでエラーが返ること", func(t *testing.T) {
		t.Setenv("STOREFRONT_BASE_URL", "ftp://example.com")

		if _, err := LoadGateway("", nil); err == nil {
			t.Fatal("LoadGateway()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("/で始まらないパスでエラーが返ること", func(t *testing.T) {
		t.Setenv("STOREFRONT_LOGIN_PATH", "api/token/")

		if _, err := LoadGateway("", nil); err == nil {
			t.Fatal("LoadGateway()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("存在しない設定ファイルでエラーが返ること", func(t *testing.T) {
		if _, err := LoadGateway(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
			t.Fatal("LoadGateway()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestLoadBackend はLoadBackend関数を検証する。
func TestLoadBackend(t *testing.T) {
	t.Run("何も指定しない場合は既定値が使われること", func(t *testing.T) {
		cfg, err := LoadBackend("", nil)
		if err != nil {
			t.Fatalf("LoadBackend()でエラーが発生: %v", err)
		}
		if cfg.Port != "8000" {
			t.Errorf("Port = %q, want %q", cfg.Port, "8000")
		}
		if !cfg.RotateRefresh {
			t.Error("RotateRefreshの既定値はtrueであるべき")
		}
		if cfg.AccessTTL != 5*time.Minute {
			t.Errorf("AccessTTL = %v, want %v", cfg.AccessTTL, 5*time.Minute)
		}
	})

	t.Run("環境変数で真偽値と期間を上書きできること", func(t *testing.T) {
		t.Setenv("STOREFRONT_ROTATE_REFRESH", "false")
		t.Setenv("STOREFRONT_ACCESS_TTL", "30s")
		t.Setenv("STOREFRONT_JWT_SECRET", "from-env")

		cfg, err := LoadBackend("", nil)
		if err != nil {
			t.Fatalf("LoadBackend()でエラーが発生: %v", err)
		}
		if cfg.RotateRefresh {
			t.Error("RotateRefresh = true, want false")
		}
		if cfg.AccessTTL != 30*time.Second {
			t.Errorf("AccessTTL = %v, want %v", cfg.AccessTTL, 30*time.Second)
		}
		if cfg.JWTSecret != "from-env" {
			t.Errorf("JWTSecret = %q, want %q", cfg.JWTSecret, "from-env")
		}
	})

	t.Run("access_ttlがrefresh_ttl以上の場合はエラーが返ること", func(t *testing.T) {
		t.Setenv("STOREFRONT_ACCESS_TTL", "48h")

		if _, err := LoadBackend("", nil); err == nil {
			t.Fatal("LoadBackend()がエラーを返すべきだが、nilが返った")
		}
	})
}
