// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tripplan-go/internal/config"
)

// AdminAuthMiddleware enforces the admin surface's own access control
// (spec §6 Admin config: ADMIN_API_TOKEN / ADMIN_ALLOWED_IPS), independent
// of per-user JWT auth — admin endpoints are operated by a static bearer
// token, not a user role.
func AdminAuthMiddleware(cfg config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(cfg.AllowedIPs) > 0 {
			clientIP := c.ClientIP()
			allowed := false
			for _, ip := range cfg.AllowedIPs {
				if ip == clientIP {
					allowed = true
					break
				}
			}
			if !allowed {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": 2002, "msg": "client ip not allowed for admin access", "data": nil})
				return
			}
		}

		if len(cfg.APITokens) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": 2002, "msg": "admin access is not configured", "data": nil})
			return
		}

		authHeader := c.GetHeader("Authorization")
		const bearerPrefix = "Bearer "
		presented := strings.TrimPrefix(authHeader, bearerPrefix)
		for _, tok := range cfg.APITokens {
			if tok != "" && tok == presented {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": 2002, "msg": "invalid admin token", "data": nil})
	}
}
