package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/nao1215/storefront/internal/config"
	"github.com/nao1215/storefront/internal/eventstore"
	"github.com/nao1215/storefront/pkg/authgateway"
	"github.com/nao1215/storefront/pkg/credential"
	"github.com/nao1215/storefront/pkg/event"
	"github.com/spf13/cobra"
)

// rootOptions は全サブコマンドに共通するフラグ。
type rootOptions struct {
	configPath string
	verbose    bool
}

// newRootCmd はstorefrontctlのルートコマンドを生成する。
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "storefrontctl",
		Short:        "ストアフロントのバックエンドを認証付きで呼び出すCLI",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.verbose {
				log.SetFlags(log.LstdFlags | log.Lshortfile)
				return
			}
			log.SetOutput(io.Discard)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "設定ファイルのパス")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "ゲートウェイのログを表示する")
	pf.String("base-url", "", "バックエンドのベースURL")
	pf.String("credential-db", "", "認証情報を保存するSQLiteファイル")
	pf.String("event-db", "", "セッションイベントの履歴を保存するSQLiteファイル")
	pf.Duration("request-timeout", 0, "1回のHTTP呼び出しのタイムアウト")
	pf.Duration("refresh-timeout", 0, "トークン再発行のタイムアウト")

	cmd.AddCommand(
		newLoginCmd(opts),
		newRegisterCmd(opts),
		newLogoutCmd(opts),
		newStatusCmd(opts),
		newRefreshCmd(opts),
		newWhoamiCmd(opts),
		newRequestCmd(opts),
		newHistoryCmd(opts),
	)
	return cmd
}

// session はコマンド1回分のゲートウェイと後始末。
type session struct {
	gateway *authgateway.Gateway
	store   *credential.SQLiteStore
	// events はセッションイベントの履歴。event_dbが空の場合はnil。
	events  *eventstore.Store
	cancels []func()
}

// Close はイベント購読を解除してストアを閉じる。
func (s *session) Close() {
	if s.gateway != nil {
		s.gateway.Wait()
	}
	for _, cancel := range s.cancels {
		cancel()
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			log.Printf("[CLI] イベントストアのクローズに失敗: %v", err)
		}
	}
	if err := s.store.Close(); err != nil {
		log.Printf("[CLI] 認証情報ストアのクローズに失敗: %v", err)
	}
}

// openSession は設定を読み込んでゲートウェイを生成する。
func openSession(ctx context.Context, cmd *cobra.Command, opts *rootOptions) (*session, error) {
	cfg, err := config.LoadGateway(opts.configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}

	store, err := credential.OpenSQLiteStore(ctx, cfg.CredentialDB)
	if err != nil {
		return nil, fmt.Errorf("認証情報ストアを開けません: %w", err)
	}
	s := &session{store: store}

	bus := event.NewBus()
	if cfg.EventDB != "" {
		events, err := eventstore.Open(ctx, cfg.EventDB)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("イベントストアを開けません: %w", err)
		}
		s.events = events
		s.cancels = append(s.cancels, bus.Subscribe(events.Recorder(context.WithoutCancel(ctx))))
	}
	s.cancels = append(s.cancels, bus.Subscribe(func(e *event.Event) {
		switch e.Type {
		case event.TypeSessionEnded:
			data, err := event.DecodeData[event.SessionEndedData](e)
			if err != nil {
				return
			}
			log.Printf("[CLI] セッションが終了しました: reason=%s, error=%s", data.Reason, data.Error)
		case event.TypeTokenRefreshed:
			data, err := event.DecodeData[event.TokenRefreshedData](e)
			if err != nil {
				return
			}
			log.Printf("[CLI] アクセストークンが再発行されました: rotated=%t", data.Rotated)
		}
	}))

	gw, err := authgateway.New(authgateway.Config{
		BaseURL:        cfg.BaseURL,
		LoginPath:      cfg.LoginPath,
		RegisterPath:   cfg.RegisterPath,
		RefreshPath:    cfg.RefreshPath,
		LogoutPath:     cfg.LogoutPath,
		HTTPClient:     &http.Client{Timeout: cfg.RequestTimeout},
		Store:          store,
		Events:         bus,
		RefreshTimeout: cfg.RefreshTimeout,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.gateway = gw
	return s, nil
}

// sessionError はトークン再発行の失敗を再ログインの案内に置き換える。
func sessionError(err error) error {
	if errors.Is(err, authgateway.ErrRefresh) {
		return fmt.Errorf("セッションが終了しました。再度ログインしてください: %w", err)
	}
	return err
}
