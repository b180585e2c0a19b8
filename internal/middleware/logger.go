package middleware

import (
	"time"

	"vidmatch/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Logger writes one structured line per request
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.LogRequest(
			c.Request.Method,
			path,
			c.ClientIP(),
			c.Request.UserAgent(),
			time.Since(start),
			c.Writer.Status(),
		)
	}
}
