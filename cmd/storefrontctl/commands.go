package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nao1215/storefront/internal/eventstore"
	"github.com/nao1215/storefront/pkg/authgateway"
	"github.com/nao1215/storefront/pkg/credential"
	"github.com/nao1215/storefront/pkg/event"
	"github.com/nao1215/storefront/pkg/httpclient"
	"github.com/spf13/cobra"
)

// newLoginCmd はloginサブコマンドを生成する。
func newLoginCmd(opts *rootOptions) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "ユーザー名とパスワードでログインする",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				p, err := readPassword(cmd)
				if err != nil {
					return err
				}
				password = p
			}

			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.gateway.Login(cmd.Context(), username, password); err != nil {
				if errors.Is(err, authgateway.ErrUnauthorized) {
					return errors.New("ユーザー名またはパスワードが違います")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s としてログインしました\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "ユーザー名")
	cmd.Flags().StringVarP(&password, "password", "p", "", "パスワード（省略時は標準入力から読む）")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// newRegisterCmd はregisterサブコマンドを生成する。
func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var in authgateway.RegisterInput

	cmd := &cobra.Command{
		Use:   "register",
		Short: "会員登録してログインする",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in.Password == "" {
				p, err := readPassword(cmd)
				if err != nil {
					return err
				}
				in.Password = p
			}

			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.gateway.Register(cmd.Context(), in); err != nil {
				var statusErr *authgateway.StatusError
				if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
					return fmt.Errorf("ユーザー名 %s は既に使われています", in.Username)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s を登録してログインしました\n", in.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in.Username, "username", "u", "", "ユーザー名")
	cmd.Flags().StringVarP(&in.Password, "password", "p", "", "パスワード（省略時は標準入力から読む）")
	cmd.Flags().StringVar(&in.Email, "email", "", "メールアドレス")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// newLogoutCmd はlogoutサブコマンドを生成する。
func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "リフレッシュトークンを失効させて認証情報を削除する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.gateway.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ログアウトしました")
			return nil
		},
	}
}

// newStatusCmd はstatusサブコマンドを生成する。
// トークンの署名は検証せず、有効期限だけを表示する。
func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "保存済みトークンの有効期限を表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			pair, err := s.gateway.Credentials(cmd.Context())
			if errors.Is(err, credential.ErrNotFound) {
				fmt.Fprintln(out, "ログインしていません")
				return nil
			}
			if err != nil {
				return err
			}

			now := time.Now()
			fmt.Fprintf(out, "access:  %s\n", describeToken(pair.AccessToken, now))
			fmt.Fprintf(out, "refresh: %s\n", describeToken(pair.RefreshToken, now))
			return nil
		},
	}
}

// newRefreshCmd はrefreshサブコマンドを生成する。
func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "アクセストークンを今すぐ再発行する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			token, err := s.gateway.Refresh(cmd.Context())
			if err != nil {
				return sessionError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "アクセストークンを再発行しました: %s\n", describeToken(token, time.Now()))
			return nil
		},
	}
}

// newWhoamiCmd はwhoamiサブコマンドを生成する。
func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "ログイン中のユーザー情報を表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			var me struct {
				ID       string `json:"id"`
				Username string `json:"username"`
				Email    string `json:"email"`
			}
			if err := httpclient.New(s.gateway).GetJSON(cmd.Context(), path, &me); err != nil {
				return sessionError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id=%s username=%s email=%s\n", me.ID, me.Username, me.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "/api/v1/me", "ユーザー情報エンドポイントのパス")
	return cmd
}

// newRequestCmd はrequestサブコマンドを生成する。
// レスポンスボディをそのまま標準出力に書き、2xx以外の場合はエラー終了する。
func newRequestCmd(opts *rootOptions) *cobra.Command {
	var (
		data      string
		requestID string
		headers   []string
	)

	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "認証付きリクエストを送信する",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			var body []byte
			if data != "" {
				body = []byte(data)
			}
			req := authgateway.NewRequest(method, args[1], body)
			if requestID != "" {
				req.Header.Set(authgateway.HeaderRequestID, requestID)
			}
			for _, h := range headers {
				k, v, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("ヘッダーの形式が不正です（Key: Value）: %q", h)
				}
				req.Header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
			}

			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.gateway.Send(cmd.Context(), req)
			if err != nil {
				return sessionError(err)
			}
			out := cmd.OutOrStdout()
			if _, err := out.Write(resp.Body); err != nil {
				return err
			}
			if len(resp.Body) > 0 && resp.Body[len(resp.Body)-1] != '\n' {
				fmt.Fprintln(out)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return &authgateway.StatusError{Method: method, Path: args[1], StatusCode: resp.StatusCode, Body: resp.Body}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSONリクエストボディ")
	cmd.Flags().StringVar(&requestID, "request-id", "", "X-Request-IDに設定する値（省略時は自動生成）")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "追加のリクエストヘッダー（Key: Value）")
	return cmd
}

// readPassword は標準入力から1行読んでパスワードとして返す。
func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("パスワードの読み込みに失敗: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("パスワードが入力されていません")
	}
	return password, nil
}

// describeToken はJWTの有効期限を人が読める形式にする。
// JWTとして解釈できないトークンはその旨だけを返す。
func describeToken(token string, now time.Time) string {
	if token == "" {
		return "なし"
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "有効期限不明（JWTではありません）"
	}
	if claims.ExpiresAt == nil {
		return "有効期限なし"
	}
	exp := claims.ExpiresAt.Time
	if !exp.After(now) {
		return fmt.Sprintf("%s に期限切れ", exp.Local().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s まで有効（残り %s）", exp.Local().Format(time.RFC3339), exp.Sub(now).Truncate(time.Second))
}

// newHistoryCmd はhistoryサブコマンドを生成する。
func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit     int
		eventType string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "ログインや再発行などセッションイベントの履歴を新しい順に表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if s.events == nil {
				return errors.New("event_dbが設定されていないため履歴はありません")
			}

			var events []*event.Event
			if eventType != "" {
				events, err = s.events.ListByType(cmd.Context(), event.Type(eventType), limit)
			} else {
				events, err = s.events.List(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range events {
				fmt.Fprintf(out, "%s  %-15s %s\n", e.CreatedAt.Local().Format(time.RFC3339), e.Type, describeEvent(e))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", eventstore.DefaultLimit, "表示する最大件数")
	cmd.Flags().StringVar(&eventType, "type", "", "SessionStarted / TokenRefreshed / SessionEnded で絞り込む")
	return cmd
}

// describeEvent はイベント固有のデータを1行にまとめる。
func describeEvent(e *event.Event) string {
	switch e.Type {
	case event.TypeSessionStarted:
		if d, err := event.DecodeData[event.SessionStartedData](e); err == nil {
			return "username=" + d.Username
		}
	case event.TypeTokenRefreshed:
		if d, err := event.DecodeData[event.TokenRefreshedData](e); err == nil {
			return fmt.Sprintf("rotated=%t", d.Rotated)
		}
	case event.TypeSessionEnded:
		if d, err := event.DecodeData[event.SessionEndedData](e); err == nil {
			if d.Error != "" {
				return fmt.Sprintf("reason=%s error=%s", d.Reason, d.Error)
			}
			return "reason=" + d.Reason
		}
	}
	return string(e.Data)
}
