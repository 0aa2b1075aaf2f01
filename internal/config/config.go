// Package config はゲートウェイCLIと開発用バックエンドの設定を読み込む。
//
// 優先順位は、コマンドラインフラグ、STOREFRONT_ 接頭辞の環境変数、
// 設定ファイル、既定値の順。設定ファイルはviperが対応する形式
// （YAML、JSON、TOML）であれば拡張子から判別する。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix は環境変数の接頭辞。
const EnvPrefix = "STOREFRONT"

// Gateway は認証ゲートウェイの設定。
type Gateway struct {
	// BaseURL はバックエンドのベースURL。
	BaseURL string `mapstructure:"base_url"`
	// LoginPath はログインエンドポイントのパス。
	LoginPath string `mapstructure:"login_path"`
	// RegisterPath は会員登録エンドポイントのパス。
	RegisterPath string `mapstructure:"register_path"`
	// RefreshPath はリフレッシュエンドポイントのパス。
	RefreshPath string `mapstructure:"refresh_path"`
	// LogoutPath はログアウトエンドポイントのパス。
	LogoutPath string `mapstructure:"logout_path"`
	// CredentialDB は認証情報を保存するSQLiteファイルのパス。
	CredentialDB string `mapstructure:"credential_db"`
	// EventDB はセッションイベントの履歴を保存するSQLiteファイルのパス。空の場合は記録しない。
	EventDB string `mapstructure:"event_db"`
	// RequestTimeout は1回のHTTP呼び出しのタイムアウト。
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// RefreshTimeout はトークン再発行のタイムアウト。
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

// Backend は開発用バックエンドの設定。
type Backend struct {
	// Port はリッスンポート。
	Port string `mapstructure:"port"`
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string `mapstructure:"jwt_secret"`
	// DBPath はSQLiteファイルのパス。
	DBPath string `mapstructure:"db_path"`
	// AccessTTL はアクセストークンの有効期間。
	AccessTTL time.Duration `mapstructure:"access_ttl"`
	// RefreshTTL はリフレッシュトークンの有効期間。
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	// RotateRefresh はリフレッシュトークンのローテーションを行うか。
	RotateRefresh bool `mapstructure:"rotate_refresh"`
	// FrontendURL はCORSで許可するオリジン。
	FrontendURL string `mapstructure:"frontend_url"`
}

// gatewayDefaults はGatewayの既定値。
var gatewayDefaults = map[string]any{
	"base_url":        "http://localhost:8000",
	"login_path":      "/api/token/",
	"register_path":   "/api/token/register/",
	"refresh_path":    "/api/token/refresh/",
	"logout_path":     "/api/token/logout/",
	"credential_db":   "storefront-credentials.db",
	"event_db":        "storefront-events.db",
	"request_timeout": 30 * time.Second,
	"refresh_timeout": 15 * time.Second,
}

// backendDefaults はBackendの既定値。
var backendDefaults = map[string]any{
	"port":           "8000",
	"jwt_secret":     "dev-secret-key",
	"db_path":        "devbackend.db",
	"access_ttl":     5 * time.Minute,
	"refresh_ttl":    24 * time.Hour,
	"rotate_refresh": true,
	"frontend_url":   "http://localhost:3000",
}

// LoadGateway はゲートウェイの設定を読み込む。
// pathが空の場合は設定ファイルを読まない。flagsはnilでもよい。
func LoadGateway(path string, flags *pflag.FlagSet) (Gateway, error) {
	v, err := newViper(path, flags, gatewayDefaults)
	if err != nil {
		return Gateway{}, err
	}

	var cfg Gateway
	if err := v.Unmarshal(&cfg); err != nil {
		return Gateway{}, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Gateway{}, err
	}
	return cfg, nil
}

// LoadBackend は開発用バックエンドの設定を読み込む。
func LoadBackend(path string, flags *pflag.FlagSet) (Backend, error) {
	v, err := newViper(path, flags, backendDefaults)
	if err != nil {
		return Backend{}, err
	}

	var cfg Backend
	if err := v.Unmarshal(&cfg); err != nil {
		return Backend{}, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Backend{}, err
	}
	return cfg, nil
}

// Validate は設定値を検証する。
func (g Gateway) Validate() error {
	u, err := url.Parse(g.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_urlが不正です: %q", g.BaseURL)
	}
	for key, p := range map[string]string{
		"login_path":    g.LoginPath,
		"register_path": g.RegisterPath,
		"refresh_path":  g.RefreshPath,
		"logout_path":   g.LogoutPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%sは/で始まる必要があります: %q", key, p)
		}
	}
	if g.CredentialDB == "" {
		return errors.New("credential_dbが設定されていません")
	}
	if g.RequestTimeout <= 0 || g.RefreshTimeout <= 0 {
		return errors.New("タイムアウトは正の値である必要があります")
	}
	return nil
}

// Validate は設定値を検証する。
func (b Backend) Validate() error {
	if b.Port == "" {
		return errors.New("portが設定されていません")
	}
	if b.JWTSecret == "" {
		return errors.New("jwt_secretが設定されていません")
	}
	if b.DBPath == "" {
		return errors.New("db_pathが設定されていません")
	}
	if b.AccessTTL <= 0 || b.RefreshTTL <= 0 {
		return errors.New("トークンの有効期間は正の値である必要があります")
	}
	if b.AccessTTL >= b.RefreshTTL {
		return errors.New("access_ttlはrefresh_ttlより短くする必要があります")
	}
	return nil
}

// newViper は既定値、設定ファイル、環境変数、フラグを束ねたviperを生成する。
// フラグ名はキーの_を-に置き換えたもの（base_url → --base-url）。
func newViper(path string, flags *pflag.FlagSet, defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: path=%s: %w", path, err)
		}
	}

	if flags != nil {
		for key := range defaults {
			f := flags.Lookup(strings.ReplaceAll(key, "_", "-"))
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("フラグのバインドに失敗: %s: %w", f.Name, err)
			}
		}
	}
	return v, nil
}
