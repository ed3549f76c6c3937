package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"order-lifecycle-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type MockAuth struct{ mock.Mock }

func (m *MockAuth) ValidateToken(ctx context.Context, token string) (*service.AuthUser, error) {
	args := m.Called(ctx, token)
	u, _ := args.Get(0).(*service.AuthUser)
	return u, args.Error(1)
}

func newRouter(auth TokenValidator, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(logger), Recovery(logger))
	admin := r.Group("/admin", AuthMiddleware(auth, logger), AdminOnly())
	admin.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("userID"))
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func get(r http.Handler, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthAndAdmin(t *testing.T) {
	auth := &MockAuth{}
	auth.On("ValidateToken", mock.Anything, "admin-token").Return(&service.AuthUser{ID: "u1", Permissions: []string{"user", "admin"}, Enabled: true}, nil)
	auth.On("ValidateToken", mock.Anything, "user-token").Return(&service.AuthUser{ID: "u2", Permissions: []string{"user"}, Enabled: true}, nil)
	auth.On("ValidateToken", mock.Anything, "bad").Return(nil, service.ErrInvalidToken)
	r := newRouter(auth, zap.NewNop())

	w := get(r, "/admin/whoami", "Bearer admin-token")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())

	assert.Equal(t, http.StatusForbidden, get(r, "/admin/whoami", "Bearer user-token").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin/whoami", "Bearer bad").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin/whoami", "").Code)
}

func TestAuth_ServiceDownIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	auth := &MockAuth{}
	auth.On("ValidateToken", mock.Anything, "t").Return(nil, errors.New("dial tcp: refused"))
	r := newRouter(auth, zap.New(core))

	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin/whoami", "Bearer t").Code)
	assert.Equal(t, 1, logs.FilterMessage("auth service unavailable").Len())
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newRouter(&MockAuth{}, zap.New(core))

	w := get(r, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	assert.Equal(t, 1, logs.FilterMessage("request").Len())
}
