package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS 按白名单回应跨域请求；白名单为空时只放行同源，"*" 放行全部（仅限 dev）。
func CORS(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		permitted := false
		if len(allowed) == 0 {
			permitted = strings.Contains(origin, c.Request.Host)
		} else {
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) {
					permitted = true
					break
				}
			}
		}
		if permitted {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
