package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/common/logger"
)

// requireInternalToken gates service-to-service routes (the Manager's config
// resolver) behind a shared secret, skipping the check entirely when no
// token is configured (local/dev runs).
func requireInternalToken(token string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-Internal-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "code": "UNAUTHORIZED", "message": "invalid internal token"})
			return
		}
		c.Next()
	}
}
