package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// RequestLogger logs each request and counts it by route and status. m may
// be nil.
func RequestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		// Label by route template, not the raw path
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if m != nil {
			m.HTTPRequest(route, strconv.Itoa(status))
		}

		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"route", route,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
			"request_id", GetRequestID(c),
		}
		if p := GetPrincipal(c); p != "" {
			attrs = append(attrs, "principal", p)
		}
		if query != "" {
			attrs = append(attrs, "query", query)
		}

		// Level follows the status code
		switch {
		case status >= 500:
			slog.Error("request completed", attrs...)
		case status >= 400:
			slog.Warn("request completed", attrs...)
		default:
			slog.Info("request completed", attrs...)
		}
	}
}
