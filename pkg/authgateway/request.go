package authgateway

import "net/http"

// Request はゲートウェイ経由で送るリクエストの記述子。
// Bodyはバイト列で保持し、トークン再発行後の再送に使う。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// Path はベースURLからの相対パス。クエリ文字列を含めてよい。
	Path string
	// Body はリクエストボディ。nilの場合はボディなしで送る。
	Body []byte
	// Header は呼び出し元が指定するヘッダー。Authorizationはゲートウェイが上書きする。
	Header http.Header

	// retried は再発行後に再送済みであることを示す。
	retried bool
}

// NewRequest はヘッダーが空のRequestを生成する。
func NewRequest(method, path string, body []byte) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Body:   body,
		Header: make(http.Header),
	}
}

// clone は送信用の複製を返す。呼び出し元のRequestは変更しない。
func (r *Request) clone() *Request {
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	return &c
}

// Response はサーバーから受け取ったレスポンス。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header はレスポンスヘッダー。
	Header http.Header
	// Body はレスポンスボディ全体。
	Body []byte
}
