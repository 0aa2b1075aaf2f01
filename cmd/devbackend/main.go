// 開発用バックエンドのエントリポイント。
// 認証ゲートウェイが前提とするトークンエンドポイントをローカルで提供する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/storefront/internal/config"
	"github.com/nao1215/storefront/internal/devbackend"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "devbackend",
		Short:        "トークンエンドポイントを持つ開発用バックエンドを起動する",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadBackend(configPath, cmd.Flags())
			if err != nil {
				return err
			}

			server, err := devbackend.NewServer(cmd.Context(), devbackend.Config{
				Port:          cfg.Port,
				JWTSecret:     cfg.JWTSecret,
				DBPath:        cfg.DBPath,
				AccessTTL:     cfg.AccessTTL,
				RefreshTTL:    cfg.RefreshTTL,
				RotateRefresh: cfg.RotateRefresh,
				FrontendURL:   cfg.FrontendURL,
			})
			if err != nil {
				return err
			}
			defer server.Close()

			return server.Run(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "設定ファイルのパス")
	f.StringP("port", "p", "", "リッスンポート")
	f.String("db-path", "", "SQLiteファイルのパス")
	f.Duration("access-ttl", 0, "アクセストークンの有効期間")
	f.Duration("refresh-ttl", 0, "リフレッシュトークンの有効期間")
	f.Bool("rotate-refresh", true, "リフレッシュのたびにリフレッシュトークンを入れ替える")
	f.String("frontend-url", "", "CORSで許可するオリジン")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalf("開発用バックエンドの起動に失敗: %v", err)
	}
}
