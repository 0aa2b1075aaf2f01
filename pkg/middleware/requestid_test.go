package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TestRequestID はRequestIDミドルウェアを検証する。
func TestRequestID(t *testing.T) {
	t.Parallel()

	t.Run("クライアントのX-Request-IDがそのまま使われること", func(t *testing.T) {
		t.Parallel()

		var got string
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			got = GetRequestID(c)
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(HeaderRequestID, "client-req-1")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if got != "client-req-1" {
			t.Errorf("GetRequestID() = %q, want %q", got, "client-req-1")
		}
		if h := w.Header().Get(HeaderRequestID); h != "client-req-1" {
			t.Errorf("X-Request-ID = %q, want %q", h, "client-req-1")
		}
	})

	t.Run("X-Request-IDが無い場合はUUIDが採番されること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if _, err := uuid.Parse(w.Header().Get(HeaderRequestID)); err != nil {
			t.Errorf("X-Request-IDがUUIDではない: %q", w.Header().Get(HeaderRequestID))
		}
	})

	t.Run("ミドルウェア未適用の場合は空文字列が返ること", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		if got := GetRequestID(c); got != "" {
			t.Errorf("GetRequestID() = %q, want empty string", got)
		}
	})
}
