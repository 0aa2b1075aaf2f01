package devbackend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/storefront/pkg/middleware"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultAccessTTL はアクセストークンの既定の有効期間。
	DefaultAccessTTL = 5 * time.Minute
	// DefaultRefreshTTL はリフレッシュトークンの既定の有効期間。
	DefaultRefreshTTL = 24 * time.Hour
)

// Config は開発用バックエンドの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string
	// DBPath はSQLiteファイルのパス。
	DBPath string
	// AccessTTL はアクセストークンの有効期間。
	AccessTTL time.Duration
	// RefreshTTL はリフレッシュトークンの有効期間。
	RefreshTTL time.Duration
	// RotateRefresh がtrueの場合、リフレッシュのたびに新しいリフレッシュトークンを発行し、
	// 提示されたトークンを失効させる。
	RotateRefresh bool
	// FrontendURL はCORSで許可するオリジン。
	FrontendURL string
	// BcryptCost はパスワードハッシュのコスト。0の場合はbcrypt.DefaultCost。
	BcryptCost int
}

// Server は開発用バックエンドのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// db はSQLiteデータベース接続。
	db *sql.DB
	// cfg は既定値を補完済みの設定。
	cfg Config
}

// NewServer は新しい開発用バックエンドを生成する。
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWTの署名鍵が設定されていません")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("データベースのパスが設定されていません")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	sqlDB, err := openDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	s := &Server{
		db:  sqlDB,
		cfg: cfg,
	}
	if n, err := s.purgeExpiredRefreshTokens(ctx, time.Now()); err != nil {
		log.Printf("[DevBackend] %v", err)
	} else if n > 0 {
		log.Printf("[DevBackend] 期限切れのリフレッシュトークンを%d件削除しました", n)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	if cfg.FrontendURL != "" {
		router.Use(middleware.CORS([]string{cfg.FrontendURL}))
	}

	s.router = router
	s.setupRoutes()

	return s, nil
}

// Handler はHTTPハンドラーを返す。httptestから利用する。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。ctxが終了するとサーバーを停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[DevBackend] サーバーを起動します: :%s (rotate_refresh=%t)", s.cfg.Port, s.cfg.RotateRefresh)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		log.Println("[DevBackend] サーバーを停止します")
		return srv.Shutdown(shutdownCtx)
	}
}

// Close はDB接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// トークンエンドポイント（認証不要）
	token := s.router.Group("/api/token")
	{
		token.POST("/", s.handleLogin())
		token.POST("/register/", s.handleRegister())
		token.POST("/refresh/", s.handleRefresh())
		token.POST("/logout/", s.handleLogout())
	}

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		api.GET("/me", s.handleGetCurrentUser())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "devbackend"})
	})
}
