package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
	"github.com/gin-gonic/gin"
)

// Recovery turns a panic into an internal-error envelope
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := GetRequestID(c)

				// Log the panic with stack trace
				slog.Error("panic recovered",
					"error", err,
					"request_id", requestID,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)

				// Return 500 error
				c.AbortWithStatusJSON(http.StatusInternalServerError, service.Envelope{
					Status:  service.StatusError,
					Message: "Internal server error",
					Class:   service.ClassInternal,
				})
			}
		}()

		c.Next()
	}
}
