package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"notifygate/internal/models"
	"notifygate/internal/ratelimit"
)

// ClientIdentity resolves the quota key for a request: explicit client
// header first, then the first forwarded hop, then the raw peer
// address.
func ClientIdentity(c *gin.Context) string {
	if id := c.GetHeader("X-Client-ID"); id != "" {
		return "client:" + id
	}
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
		if first != "" {
			return "ip:" + first
		}
	}
	return "ip:" + c.ClientIP()
}

// RateLimit enforces the sliding-window quota. A counting-store outage
// fails open: availability wins over strict enforcement.
func RateLimit(limiter ratelimit.Limiter, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := ClientIdentity(c)
		result, err := limiter.Check(c.Request.Context(), identity)
		if err != nil {
			log.Warn().Err(err).Str("identity", identity).Msg("rate limit check failed, failing open")
			if result.Limit > 0 {
				quotaHeaders(c, result)
			}
			c.Next()
			return
		}

		quotaHeaders(c, result)

		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse(
				models.CodeRateLimitExceeded,
				"Too many requests. Please try again later.",
			))
			return
		}
		c.Next()
	}
}

func quotaHeaders(c *gin.Context, result ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
