// admin_only.go
package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// AdminOnly va después de AuthMiddleware: lee los permisos que dejó en el contexto.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		perms := c.GetStringSlice("userPermissions")
		if !slices.Contains(perms, "admin") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
			return
		}
		c.Next()
	}
}
