// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"actuator-hub/internal/utils"
)

// LoggingMiddleware logs every request once it has been served
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.LogAPIRequest(
			c.Request.Method,
			c.FullPath(),
			c.GetString(utils.RequestIDKey),
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}
