package authgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/nao1215/storefront/pkg/credential"
	"github.com/nao1215/storefront/pkg/event"
)

// loginRequest はログインエンドポイントへのリクエストボディ。
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterInput は会員登録の入力。
type RegisterInput struct {
	// Username はログインに使うユーザー名。
	Username string `json:"username"`
	// Password はパスワード。
	Password string `json:"password"`
	// Email は連絡先メールアドレス。
	Email string `json:"email"`
}

// Login はユーザー名とパスワードで認証し、得られた認証情報を保存する。
// 成功するとevent.TypeSessionStartedを発行する。
func (g *Gateway) Login(ctx context.Context, username, password string) (credential.Pair, error) {
	pair, err := g.obtain(ctx, g.paths.login, loginRequest{Username: username, Password: password})
	if err != nil {
		return credential.Pair{}, err
	}
	if err := g.replaceCredentials(ctx, pair); err != nil {
		return credential.Pair{}, err
	}

	log.Printf("[Gateway] ログインしました: username=%s", username)
	g.publish(event.TypeSessionStarted, event.SessionStartedData{Username: username})
	return pair, nil
}

// Register は会員登録を行い、得られた認証情報を保存する。
// 成功するとevent.TypeSessionStartedを発行する。
func (g *Gateway) Register(ctx context.Context, in RegisterInput) (credential.Pair, error) {
	pair, err := g.obtain(ctx, g.paths.register, in)
	if err != nil {
		return credential.Pair{}, err
	}
	if err := g.replaceCredentials(ctx, pair); err != nil {
		return credential.Pair{}, err
	}

	log.Printf("[Gateway] 会員登録しました: username=%s", in.Username)
	g.publish(event.TypeSessionStarted, event.SessionStartedData{Username: in.Username})
	return pair, nil
}

// Logout はリフレッシュトークンの失効を依頼してから認証情報を削除する。
// 失効依頼の失敗はログに残すだけで、ローカルの認証情報は必ず削除する。
func (g *Gateway) Logout(ctx context.Context) error {
	pair, err := g.store.Load(ctx)
	switch {
	case errors.Is(err, credential.ErrNotFound):
	case err != nil:
		log.Printf("[Gateway] 認証情報の読み込みに失敗: %v", err)
	case pair.RefreshToken != "":
		status, _, perr := g.postJSON(ctx, g.paths.logout, refreshRequest{Refresh: pair.RefreshToken})
		if perr != nil {
			log.Printf("[Gateway] リフレッシュトークンの失効依頼に失敗: %v", perr)
		} else if status < 200 || status >= 300 {
			log.Printf("[Gateway] リフレッシュトークンの失効依頼が拒否されました: status=%d", status)
		}
	}

	g.mu.Lock()
	g.gen++
	err = g.store.Clear(ctx)
	g.mu.Unlock()
	if err != nil {
		return fmt.Errorf("認証情報の削除に失敗: %w", err)
	}

	log.Println("[Gateway] ログアウトしました")
	g.publish(event.TypeSessionEnded, event.SessionEndedData{Reason: event.ReasonLogout})
	return nil
}

// obtain はトークンを発行するエンドポイントを呼び出す。
func (g *Gateway) obtain(ctx context.Context, path string, in any) (credential.Pair, error) {
	status, body, err := g.postJSON(ctx, path, in)
	if err != nil {
		return credential.Pair{}, err
	}
	if status < 200 || status >= 300 {
		return credential.Pair{}, &StatusError{Method: http.MethodPost, Path: path, StatusCode: status, Body: body}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return credential.Pair{}, fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}
	if tr.Access == "" {
		return credential.Pair{}, errMissingAccessToken
	}
	return credential.Pair{AccessToken: tr.Access, RefreshToken: tr.Refresh}, nil
}

// replaceCredentials は認証情報を新しいセッションのものに置き換える。
// 進行中の再発行の結果はこの置き換えを上書きしない。
func (g *Gateway) replaceCredentials(ctx context.Context, pair credential.Pair) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.gen++
	if err := g.store.Save(ctx, pair); err != nil {
		return fmt.Errorf("認証情報の保存に失敗: %w", err)
	}
	return nil
}
