package authgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/storefront/pkg/credential"
	"github.com/nao1215/storefront/pkg/event"
)

// バックエンドのトークンエンドポイントの既定パス。
const (
	DefaultLoginPath    = "/api/token/"
	DefaultRegisterPath = "/api/token/register/"
	DefaultRefreshPath  = "/api/token/refresh/"
	DefaultLogoutPath   = "/api/token/logout/"
)

const (
	// DefaultRequestTimeout はHTTPClient未指定時のタイムアウト。
	DefaultRequestTimeout = 30 * time.Second
	// DefaultRefreshTimeout はトークン再発行1回あたりのタイムアウト。
	DefaultRefreshTimeout = 15 * time.Second
	// HeaderRequestID はリクエストを追跡するためのヘッダー。
	HeaderRequestID = "X-Request-ID"
)

// Config はGatewayの設定。
type Config struct {
	// BaseURL はバックエンドのベースURL（例: "https://shop.example.com"）。
	BaseURL string
	// LoginPath はログインエンドポイントのパス。空の場合はDefaultLoginPath。
	LoginPath string
	// RegisterPath は会員登録エンドポイントのパス。空の場合はDefaultRegisterPath。
	RegisterPath string
	// RefreshPath はトークン再発行エンドポイントのパス。空の場合はDefaultRefreshPath。
	RefreshPath string
	// LogoutPath はリフレッシュトークン失効エンドポイントのパス。空の場合はDefaultLogoutPath。
	LogoutPath string
	// HTTPClient は送信に使うクライアント。nilの場合はDefaultRequestTimeoutのクライアントを使う。
	HTTPClient *http.Client
	// Store は認証情報の保存先。nilの場合はメモリ上に保持する。
	Store credential.Store
	// Events はセッションイベントの配信先。nilの場合は新しいBusを生成する。
	Events *event.Bus
	// RefreshTimeout はトークン再発行のタイムアウト。0の場合はDefaultRefreshTimeout。
	RefreshTimeout time.Duration
}

// endpointPaths はトークンエンドポイントのパス。
type endpointPaths struct {
	login    string
	register string
	refresh  string
	logout   string
}

// Gateway は認証付きリクエストを送信し、401を受けたときのトークン再発行を調停する。
// 複数のgoroutineから同時に使用できる。
type Gateway struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は末尾のスラッシュを除いたバックエンドのベースURL。
	baseURL string
	// paths はトークンエンドポイントのパス。
	paths endpointPaths
	// store は認証情報の保存先。
	store credential.Store
	// events はセッションイベントの配信先。
	events *event.Bus
	// refreshTimeout はトークン再発行のタイムアウト。
	refreshTimeout time.Duration

	// mu はinflightとgenを保護する。
	mu sync.Mutex
	// inflight は進行中の再発行。nilのときは再発行していない。
	inflight *refreshCall
	// gen はログインやログアウトで認証情報が置き換わるたびに増える。
	gen uint64
	// wg は再発行goroutineの終了を追跡する。
	wg sync.WaitGroup
}

// New は新しいGatewayを生成する。
func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("BaseURLが指定されていません")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("BaseURLの解析に失敗: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("BaseURLのスキームが不正です: %q", cfg.BaseURL)
	}

	g := &Gateway{
		httpClient: cfg.HTTPClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		paths: endpointPaths{
			login:    orDefault(cfg.LoginPath, DefaultLoginPath),
			register: orDefault(cfg.RegisterPath, DefaultRegisterPath),
			refresh:  orDefault(cfg.RefreshPath, DefaultRefreshPath),
			logout:   orDefault(cfg.LogoutPath, DefaultLogoutPath),
		},
		store:          cfg.Store,
		events:         cfg.Events,
		refreshTimeout: cfg.RefreshTimeout,
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if g.store == nil {
		g.store = credential.NewMemoryStore()
	}
	if g.events == nil {
		g.events = event.NewBus()
	}
	if g.refreshTimeout <= 0 {
		g.refreshTimeout = DefaultRefreshTimeout
	}
	return g, nil
}

// Events はセッションイベントの配信先を返す。
func (g *Gateway) Events() *event.Bus {
	return g.events
}

// Send はreqに現在のアクセストークンを付与して送信する。
//
// 401以外のレスポンスはステータスに関わらずそのまま返す。401の場合は
// トークンを再発行（または進行中の再発行に合流）して1回だけ再送する。
// 再送後も401の場合はErrUnauthorizedを満たす*StatusErrorを返す。
// 再発行に失敗した場合は*RefreshErrorを返す。
func (g *Gateway) Send(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("リクエストがnilです")
	}

	attempt := req.clone()
	if attempt.Header.Get(HeaderRequestID) == "" {
		attempt.Header.Set(HeaderRequestID, uuid.New().String())
	}

	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	for {
		resp, err := g.do(ctx, attempt, token)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		if attempt.retried {
			log.Printf("[Gateway] 再送後も401が返りました: %s %s", attempt.Method, attempt.Path)
			return nil, &StatusError{
				Method:     attempt.Method,
				Path:       attempt.Path,
				StatusCode: resp.StatusCode,
				Body:       resp.Body,
			}
		}

		token, err = g.refreshFor(ctx, token)
		if err != nil {
			return nil, err
		}
		attempt.retried = true
	}
}

// Credentials は保存済みの認証情報を返す。
// 認証情報を参照するコンポーネントはストレージを直接読まずにこのメソッドを使う。
func (g *Gateway) Credentials(ctx context.Context) (credential.Pair, error) {
	return g.store.Load(ctx)
}

// accessToken は保存済みのアクセストークンを返す。未保存の場合は空文字列。
func (g *Gateway) accessToken(ctx context.Context) (string, error) {
	pair, err := g.store.Load(ctx)
	if errors.Is(err, credential.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("認証情報の読み込みに失敗: %w", err)
	}
	return pair.AccessToken, nil
}

// do は1回分のHTTPリクエストを実行し、レスポンスボディを読み切って返す。
func (g *Gateway) do(ctx context.Context, r *Request, token string) (*Response, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.Method, g.baseURL+r.Path, body)
	if err != nil {
		return nil, &RequestError{Method: r.Method, Path: r.Path, Err: err}
	}
	for key, values := range r.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if r.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Del("Authorization")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Method: r.Method, Path: r.Path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Method: r.Method, Path: r.Path, Err: fmt.Errorf("レスポンスの読み取りに失敗: %w", err)}
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// postJSON はトークンエンドポイントにJSONをPOSTする。Authorizationヘッダーは付与しない。
func (g *Gateway) postJSON(ctx context.Context, path string, in any) (int, []byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
	}

	req := NewRequest(http.MethodPost, path, payload)
	req.Header.Set(HeaderRequestID, uuid.New().String())
	resp, err := g.do(ctx, req, "")
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, resp.Body, nil
}

// publish はイベントを生成して配信する。
func (g *Gateway) publish(t event.Type, data any) {
	if ev := newEvent(t, data); ev != nil {
		g.events.Publish(ev)
	}
}

// newEvent はイベントを生成する。生成に失敗した場合はログに残してnilを返す。
func newEvent(t event.Type, data any) *event.Event {
	ev, err := event.New(t, data)
	if err != nil {
		log.Printf("[Gateway] イベントの生成に失敗: type=%s, error=%v", t, err)
		return nil
	}
	return ev
}

// orDefault はvが空の場合にdefを返す。
func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
