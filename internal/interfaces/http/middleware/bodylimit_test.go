package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(limit int64) *gin.Engine {
		r := gin.New()
		r.Use(BodyLimit(limit))
		r.POST("/", func(c *gin.Context) {
			if _, err := io.ReadAll(c.Request.Body); err != nil {
				c.Status(http.StatusRequestEntityTooLarge)
				return
			}
			c.Status(http.StatusOK)
		})
		return r
	}

	t.Run("allows bodies within the limit", func(t *testing.T) {
		r := newRouter(64)
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("small"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects oversize bodies by content length", func(t *testing.T) {
		r := newRouter(8)
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBuffer(bytes.Repeat([]byte("x"), 64)))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_PAYLOAD_TOO_LARGE")
	})

	t.Run("non-positive limit falls back to the default", func(t *testing.T) {
		r := newRouter(0)
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("small"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
