package middleware

import (
	"errors"
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery は開発用バックエンドのハンドラーで起きたパニックを500に変換する。
//
// ログとレスポンスの両方にX-Request-IDを載せ、ゲートウェイ側で受け取った
// StatusErrorのrequest_idからスタックトレースを探せるようにする。
// レスポンスを書き始めた後のパニックではボディを追記しない。
// http.ErrAbortHandlerのパニックはそのまま再送出する。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}

			requestID := GetRequestID(c)
			log.Printf("[PANIC] %s %s request_id=%s: %v\n%s", c.Request.Method, c.Request.URL.Path, requestID, r, debug.Stack())
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "内部サーバーエラーが発生しました",
				"request_id": requestID,
			})
		}()
		c.Next()
	}
}
