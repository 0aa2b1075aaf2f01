package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsAllowHeaders はブラウザからの送信を許可するリクエストヘッダー。
var corsAllowHeaders = strings.Join([]string{"Authorization", "Content-Type", HeaderRequestID}, ", ")

// corsPolicy は許可するオリジンの集合。
type corsPolicy struct {
	origins map[string]struct{}
}

// newCORSPolicy は設定値のオリジンを正規化して集合にする。
// 前後の空白と末尾のスラッシュを取り除き、空文字列は無視する。
func newCORSPolicy(allowedOrigins []string) corsPolicy {
	p := corsPolicy{origins: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			p.origins[o] = struct{}{}
		}
	}
	return p
}

// allows はoriginからのアクセスを許可するかを返す。
func (p corsPolicy) allows(origin string) bool {
	_, ok := p.origins[origin]
	return origin != "" && ok
}

// isPreflight はブラウザが送るプリフライトリクエストかを返す。
func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// CORS はブラウザ上のストアフロントからトークンエンドポイントとAPIを呼べるようにする。
//
// トークンはAuthorizationヘッダーで運び、Access-Control-Allow-Credentialsは返さない。
// X-Request-IDは送信と参照の両方を許可する。プリフライトにだけ
// 許可メソッドとヘッダーを返し、許可されていないオリジンからの
// プリフライトは403で打ち切る。プリフライト以外のOPTIONSはルーターに渡す。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	policy := newCORSPolicy(allowedOrigins)

	return func(c *gin.Context) {
		c.Writer.Header().Add("Vary", "Origin")

		origin := c.GetHeader("Origin")
		allowed := policy.allows(origin)
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Expose-Headers", HeaderRequestID)
		}

		if !isPreflight(c.Request) {
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Header("Access-Control-Max-Age", "86400")
		c.AbortWithStatus(http.StatusNoContent)
	}
}
