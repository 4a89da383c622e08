package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/warden/service"
)

const (
	// HeaderDeviceFingerprint carries the client computed device fingerprint hash
	HeaderDeviceFingerprint = "X-Device-Fingerprint"

	// ContextKeyUserID is read from the gin context; upstream authentication sets it
	ContextKeyUserID = "userID"
	// ContextKeyNewDevice is set by GuardMiddleware for downstream handlers
	ContextKeyNewDevice = "isNewDevice"
)

// GuardMiddleware creates middleware that runs every request through guard.
// rule may be nil for routes that are not rate limited.
func GuardMiddleware(guard *service.Guard, rule *service.RateLimitRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		decision, err := guard.Evaluate(c.Request.Context(), service.GuardRequest{
			IPAddress:   c.ClientIP(),
			UserID:      c.GetString(ContextKeyUserID),
			Endpoint:    endpoint,
			Rule:        rule,
			Fingerprint: c.GetHeader(HeaderDeviceFingerprint),
			UserAgent:   c.Request.UserAgent(),
		})
		if err != nil {
			_ = c.Error(err)
		}

		if rl := decision.RateLimit; rl != nil {
			remaining := rl.Remaining
			if remaining < 0 {
				remaining = 0
			}
			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
		}

		switch decision.Outcome {
		case service.OutcomeForbidden:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
			return
		case service.OutcomeTooManyRequests:
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too many requests",
				"retryAfter": decision.RetryAfter,
			})
			return
		case service.OutcomeUnavailable:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Service unavailable"})
			return
		}

		c.Set(ContextKeyNewDevice, decision.IsNewDevice)
		c.Next()
	}
}
