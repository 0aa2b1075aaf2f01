package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nao1215/storefront/pkg/authgateway"
)

// Doer はリクエスト記述子を送信する。*authgateway.Gatewayが満たす。
type Doer interface {
	Send(ctx context.Context, req *authgateway.Request) (*authgateway.Response, error)
}

// Client はJSON形式のREST APIクライアント。
type Client struct {
	// doer はリクエストの送信先。
	doer Doer
}

// New は新しいJSONクライアントを生成する。
func New(doer Doer) *Client {
	return &Client{doer: doer}
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// PutJSON は指定パスにJSONボディでPUTリクエストを送信する。
func (c *Client) PutJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPut, path, body, result)
}

// DeleteJSON は指定パスにDELETEリクエストを送信する。
func (c *Client) DeleteJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		payload = b
	}

	req := authgateway.NewRequest(method, path, payload)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// コンテキストからリクエストIDを伝播する
	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		req.Header.Set(authgateway.HeaderRequestID, requestID)
	}

	resp, err := c.doer.Send(ctx, req)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &authgateway.StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
		}
	}

	if result != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyRequestID はコンテキストにリクエストIDを格納するためのキー。
const contextKeyRequestID contextKey = "request_id"

// WithRequestID はコンテキストにリクエストIDを設定する。
// 画面操作からバックエンドのログまでリクエストを追跡するために使用する。
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}
