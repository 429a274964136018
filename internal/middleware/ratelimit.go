package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/altverseweb3/backend/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// Client identity used when the connection has no usable address. Such
// requests are not limited.
const UnknownClient = "unknown"

const resetLayout = "2006-01-02 15:04:05 UTC"

// ClientID is gin's ClientIP: the forwarded client address when the peer is
// a trusted proxy, the peer address otherwise. Header values never produce
// UnknownClient.
func ClientID(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return UnknownClient
}

// RateLimit admits each request against limiter before any handler runs.
// Denied requests get a 429 describing when the window resets.
func RateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := ClientID(c)
		if clientID == UnknownClient {
			c.Next()
			return
		}

		d := limiter.Admit(c.Request.Context(), clientID)

		c.Header("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		if !d.FailOpen {
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}

		if d.Allowed {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.FormatInt(d.RetryAfterSeconds, 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "Too Many Requests",
			"message": fmt.Sprintf("Rate limit exceeded. Limit is %d requests per %d seconds.",
				d.Limit, int64(limiter.Window().Seconds())),
			"limit":                  d.Limit,
			"reset_at":               d.ResetAt.UTC().Format(resetLayout),
			"reset_at_epoch_seconds": d.ResetAt.Unix(),
			"retry_after_seconds":    d.RetryAfterSeconds,
		})
	}
}
