package service

import (
	"context"
	"errors"
	"time"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// AbuseThreshold is the remaining count below which a caller is considered
// abusive: more than ten requests over the limit within one window.
const AbuseThreshold = -10

// ErrInvalidRateLimitRule is returned for a non-positive limit or window
var ErrInvalidRateLimitRule = errors.New("invalid rate limit rule")

// RateLimiter enforces fixed-window request limits per (identifier, endpoint)
type RateLimiter struct {
	counters ports.CounterStore
	timeout  time.Duration
}

// NewRateLimiter creates a new rate limiter backed by counters
func NewRateLimiter(counters ports.CounterStore, timeout time.Duration) *RateLimiter {
	return &RateLimiter{
		counters: counters,
		timeout:  timeout,
	}
}

// CheckRateLimit counts one request for identifier on endpoint and reports
// whether it is within limit for the current window.
func (r *RateLimiter) CheckRateLimit(
	ctx context.Context,
	identifier, endpoint string,
	limit int,
	window time.Duration,
	kind core.IdentifierKind,
) (core.RateLimitResult, error) {
	if limit <= 0 || window <= 0 {
		return core.RateLimitResult{}, ErrInvalidRateLimitRule
	}

	ctx, cancel := withStoreTimeout(ctx, r.timeout)
	defer cancel()

	count, windowStart, err := r.counters.Increment(ctx, rateLimitKey(kind, identifier, endpoint), 1, window)
	if err != nil {
		return core.RateLimitResult{}, storeError("rate limit", err)
	}

	return core.RateLimitResult{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: limit - int(count),
		ResetAt:   windowStart.Add(window),
	}, nil
}

// IsAbusive reports whether res is far enough over the limit to be
// reported as suspicious activity
func IsAbusive(res core.RateLimitResult) bool {
	return res.Remaining < AbuseThreshold
}

// ReachedAbuseLevel reports whether res belongs to the request that took its
// caller to the next abuse level: 11, 22, 44, 88... requests over the limit.
// Counters are atomic, so each level is reached by one request per window.
func ReachedAbuseLevel(res core.RateLimitResult) bool {
	if !IsAbusive(res) {
		return false
	}
	const step = 1 - AbuseThreshold
	excess := -res.Remaining
	if excess%step != 0 {
		return false
	}
	level := excess / step
	return level&(level-1) == 0
}

func rateLimitKey(kind core.IdentifierKind, identifier, endpoint string) string {
	return string(kind) + ":" + identifier + ":" + endpoint
}
