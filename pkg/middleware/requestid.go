package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID はリクエストを追跡するためのHTTPヘッダーキー。
const HeaderRequestID = "X-Request-ID"

// RequestID はX-Request-IDをコンテキストとレスポンスヘッダーに設定するGinミドルウェアを返す。
// クライアントが送らなかった場合は新たに採番する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
func GetRequestID(c *gin.Context) string {
	v, _ := c.Get("request_id")
	if id, ok := v.(string); ok {
		return id
	}
	return ""
}
