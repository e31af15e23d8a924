package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"huddle/internal/core/services"
	"huddle/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuardedRouter() (*gin.Engine, services.AuthService) {
	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService("test-secret", memory.NewMemoryUserDirectory(true))

	router := gin.New()
	router.GET("/status", AuthMiddleware(auth), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router, auth
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	router, auth := newGuardedRouter()

	token, err := auth.GenerateToken("alice", "alice", time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareRejectsBadCredentials(t *testing.T) {
	router, _ := newGuardedRouter()

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc123"},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}
