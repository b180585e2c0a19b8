package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// OperationTimeout bounds the store work a single request may do
func OperationTimeout(limit time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), limit)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
