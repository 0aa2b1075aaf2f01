package authgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/nao1215/storefront/pkg/credential"
	"github.com/nao1215/storefront/pkg/event"
)

// refreshRequest はリフレッシュエンドポイントおよびログアウトエンドポイントへのリクエストボディ。
type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// tokenResponse はトークンを返すエンドポイントのレスポンスボディ。
// リフレッシュエンドポイントはrefreshを省略することがある。
type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// refreshCall は進行中の再発行1回分。
// doneがcloseされた時点でtokenかerrのどちらかが確定している。
type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// wait は再発行の完了かctxの終了を待つ。
// ctxが先に終了しても再発行そのものは止めない。
func (c *refreshCall) wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.token, c.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Refresh はアクセストークンを再発行して新しいトークンを返す。
// 再発行が進行中の場合は新たに発行せず、その結果を待つ。
func (g *Gateway) Refresh(ctx context.Context) (string, error) {
	g.mu.Lock()
	call := g.inflight
	if call == nil {
		call = g.startRefreshLocked(ctx)
	}
	g.mu.Unlock()

	return call.wait(ctx)
}

// refreshFor はstaleトークンで401を受けたリクエストのために使えるトークンを返す。
// 別の再発行によって既にトークンが更新されていれば、再発行せずにそれを返す。
func (g *Gateway) refreshFor(ctx context.Context, stale string) (string, error) {
	g.mu.Lock()
	call := g.inflight
	if call == nil {
		pair, err := g.store.Load(ctx)
		if err == nil && pair.AccessToken != "" && pair.AccessToken != stale {
			g.mu.Unlock()
			return pair.AccessToken, nil
		}
		call = g.startRefreshLocked(ctx)
	}
	g.mu.Unlock()

	return call.wait(ctx)
}

// startRefreshLocked は再発行を開始する。g.muを保持した状態で呼び出す。
//
// 再発行は呼び出し元のキャンセルから切り離したcontextで実行する。
// 最初に401を受けたリクエストが待つのをやめても、合流した他の
// リクエストのために再発行は最後まで進む。
// RefreshTimeoutはリフレッシュエンドポイントの呼び出しにだけ掛かり、
// 結果を認証情報へ反映する書き込みは別の期限で行う。
func (g *Gateway) startRefreshLocked(ctx context.Context) *refreshCall {
	call := &refreshCall{done: make(chan struct{})}
	g.inflight = call
	gen := g.gen

	detached := context.WithoutCancel(ctx)
	rctx, cancel := context.WithTimeout(detached, g.refreshTimeout)
	pair, loadErr := g.store.Load(rctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		var (
			next credential.Pair
			err  error
		)
		switch {
		case loadErr != nil && !errors.Is(loadErr, credential.ErrNotFound):
			err = &RefreshError{Err: fmt.Errorf("認証情報の読み込みに失敗: %w", loadErr)}
		case pair.RefreshToken == "":
			err = &RefreshError{Err: ErrNoRefreshToken}
		default:
			next, err = g.exchange(rctx, pair)
		}
		cancel()

		sctx, scancel := context.WithTimeout(detached, g.refreshTimeout)
		defer scancel()
		ev := g.settle(sctx, call, gen, pair, next, err)
		if ev != nil && errors.Is(loadErr, credential.ErrNotFound) {
			// 終了済みのセッションを重ねて終了として記録しない
			ev = nil
		}
		close(call.done)
		if ev != nil {
			g.events.Publish(ev)
		}
	}()
	return call
}

// Wait は進行中の再発行が終わり、その結果のイベントが配信されるまで待つ。
// プロセスの終了前やストアを閉じる前に呼び出す。
func (g *Gateway) Wait() {
	g.wg.Wait()
}

// exchange はリフレッシュエンドポイントを呼び出して新しい認証情報を得る。
// レスポンスにrefreshが無い場合は現在のリフレッシュトークンを引き継ぐ。
func (g *Gateway) exchange(ctx context.Context, current credential.Pair) (credential.Pair, error) {
	status, body, err := g.postJSON(ctx, g.paths.refresh, refreshRequest{Refresh: current.RefreshToken})
	if err != nil {
		return credential.Pair{}, &RefreshError{Err: err}
	}
	if status < 200 || status >= 300 {
		return credential.Pair{}, &RefreshError{
			StatusCode: status,
			Err:        fmt.Errorf("リフレッシュトークンが拒否されました: body=%s", string(body)),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return credential.Pair{}, &RefreshError{StatusCode: status, Err: fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)}
	}
	if tr.Access == "" {
		return credential.Pair{}, &RefreshError{StatusCode: status, Err: errMissingAccessToken}
	}

	next := credential.Pair{AccessToken: tr.Access, RefreshToken: current.RefreshToken}
	if tr.Refresh != "" {
		next.RefreshToken = tr.Refresh
	}
	return next, nil
}

// settle は再発行の結果を認証情報に反映し、待機中のリクエストに渡す値を確定する。
// 配信すべきイベントを返す。イベントの配信はdoneをcloseした後に行う。
func (g *Gateway) settle(ctx context.Context, call *refreshCall, gen uint64, prev, next credential.Pair, err error) *event.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight = nil

	if g.gen != gen {
		// 再発行中にログインかログアウトで認証情報が置き換わった。結果は捨てる
		cur, lerr := g.store.Load(ctx)
		if lerr != nil || cur.AccessToken == "" {
			call.err = &RefreshError{Err: ErrNoRefreshToken}
			return nil
		}
		call.token = cur.AccessToken
		return nil
	}

	if err == nil {
		if serr := g.store.Save(ctx, next); serr != nil {
			err = &RefreshError{Err: fmt.Errorf("認証情報の保存に失敗: %w", serr)}
		} else {
			call.token = next.AccessToken
			rotated := next.RefreshToken != prev.RefreshToken
			log.Printf("[Gateway] アクセストークンを再発行しました: rotated=%t", rotated)
			return newEvent(event.TypeTokenRefreshed, event.TokenRefreshedData{Rotated: rotated})
		}
	}

	call.err = err
	if cerr := g.store.Clear(ctx); cerr != nil {
		log.Printf("[Gateway] 認証情報の削除に失敗: %v", cerr)
	}

	reason := event.ReasonRefreshFailed
	if errors.Is(err, ErrNoRefreshToken) {
		reason = event.ReasonNoRefreshToken
	}
	log.Printf("[Gateway] トークンの再発行に失敗したためセッションを終了します: reason=%s, error=%v", reason, err)
	return newEvent(event.TypeSessionEnded, event.SessionEndedData{Reason: reason, Error: err.Error()})
}
