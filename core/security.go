package core

import (
	"math"
	"time"
)

// IdentifierKind tells whether a rate limit identifier is a user or a client IP
type IdentifierKind string

const (
	IdentifierUser IdentifierKind = "user"
	IdentifierIP   IdentifierKind = "ip"
)

// Suspicious activity kinds emitted by this service
const (
	ActivityRateLimitAbuse    = "rate_limit_abuse"
	ActivityInvalidSignature  = "invalid_signature"
	ActivityChallengeReplay   = "challenge_replay"
	ActivityBlacklistedAccess = "blacklisted_access"
)

// RateLimitRecord is the counter state kept per (identifier, endpoint)
type RateLimitRecord struct {
	Identifier  string
	Kind        IdentifierKind
	Endpoint    string
	Count       int64
	WindowStart time.Time
	Limit       int
	Window      time.Duration
}

// RateLimitResult is the outcome of a single rate limit check
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int // may be negative when the caller is over the limit
	ResetAt   time.Time
}

// RetryAfter returns the number of whole seconds until the window resets
func (r RateLimitResult) RetryAfter(now time.Time) int {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d.Milliseconds()) / 1000))
}

// BlacklistEntry blocks an IP address, optionally until ExpiresAt
type BlacklistEntry struct {
	IPAddress string     `json:"ip_address"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the entry is still in force at now
func (e *BlacklistEntry) Active(now time.Time) bool {
	if e == nil {
		return false
	}
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

// DeviceRecord is a device fingerprint seen for a user
type DeviceRecord struct {
	UserID          string    `json:"user_id"`
	FingerprintHash string    `json:"fingerprint_hash"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	IPAddress       string    `json:"ip_address"`
	UserAgent       string    `json:"user_agent"`
}

// SuspiciousActivityEvent is an append-only security event
type SuspiciousActivityEvent struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Description string            `json:"description"`
	Severity    int               `json:"severity"`
	Context     map[string]string `json:"context,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}
