package middleware

import (
	"strconv"
	"time"

	"github.com/altverseweb3/backend/internal/observability"
	"github.com/gin-gonic/gin"
)

// Metrics observes request latency by route template
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
