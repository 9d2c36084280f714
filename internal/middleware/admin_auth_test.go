package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"tripplan-go/internal/config"
)

func newAdminTestRouter(cfg config.AdminConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/admin/ping", AdminAuthMiddleware(cfg), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestAdminAuthMiddleware(t *testing.T) {
	t.Run("rejects when no tokens are configured", func(t *testing.T) {
		router := newAdminTestRouter(config.AdminConfig{})
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("accepts a matching bearer token", func(t *testing.T) {
		router := newAdminTestRouter(config.AdminConfig{APITokens: []string{"secret-token"}})
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects a non-matching bearer token", func(t *testing.T) {
		router := newAdminTestRouter(config.AdminConfig{APITokens: []string{"secret-token"}})
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		req.Header.Set("Authorization", "Bearer wrong-token")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects a client ip outside the allowlist", func(t *testing.T) {
		router := newAdminTestRouter(config.AdminConfig{
			APITokens:  []string{"secret-token"},
			AllowedIPs: []string{"10.0.0.1"},
		})
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		req.RemoteAddr = "192.168.1.5:12345"
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("accepts an allowlisted client ip with a valid token", func(t *testing.T) {
		router := newAdminTestRouter(config.AdminConfig{
			APITokens:  []string{"secret-token"},
			AllowedIPs: []string{"192.168.1.5"},
		})
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		req.RemoteAddr = "192.168.1.5:12345"
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
