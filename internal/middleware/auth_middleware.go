// auth_middleware.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"order-lifecycle-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenValidator es el contrato del servicio de auth que usa el middleware.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*service.AuthUser, error)
}

// Middleware que valida el token y guarda la info del usuario en el contexto
func AuthMiddleware(auth TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		user, err := auth.ValidateToken(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, service.ErrInvalidToken) && !errors.Is(err, service.ErrUserDisabled) {
				logger.Warn("auth service unavailable", zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		// Guardamos los datos del usuario en el contexto
		c.Set("userID", user.ID)
		c.Set("userName", user.Name)
		c.Set("userPermissions", user.Permissions)
		c.Next()
	}
}
