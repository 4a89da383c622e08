package ports

import (
	"context"
	"time"

	"github.com/layer-3/warden/core"
)

// CounterStore keeps fixed-window rate limit counters
type CounterStore interface {
	// Increment atomically adds delta to the counter for key and returns the
	// new count and the start of the current window. A counter whose window
	// has elapsed restarts at delta with windowStart set to now.
	Increment(ctx context.Context, key string, delta int64, window time.Duration) (count int64, windowStart time.Time, err error)
}

// BlacklistStore holds blocked IP addresses
type BlacklistStore interface {
	// GetBlacklistEntry returns the entry for ip, or nil if there is none
	GetBlacklistEntry(ctx context.Context, ip string) (*core.BlacklistEntry, error)
	AddBlacklistEntry(ctx context.Context, entry core.BlacklistEntry) error
	RemoveBlacklistEntry(ctx context.Context, ip string) error
}

// DeviceStore tracks device fingerprints per user
type DeviceStore interface {
	// UpsertDevice inserts the record keyed by (UserID, FingerprintHash), or
	// updates LastSeenAt, IPAddress and UserAgent if it exists. created is true
	// only for the caller that inserted the record.
	UpsertDevice(ctx context.Context, record core.DeviceRecord) (created bool, err error)
	ListDevices(ctx context.Context, userID string) ([]core.DeviceRecord, error)
}

// ActivityLog is the append-only suspicious activity log
type ActivityLog interface {
	AppendActivity(ctx context.Context, event core.SuspiciousActivityEvent) error
}

// NonceStore tracks outstanding challenge nonces
type NonceStore interface {
	// ReserveNonce records a freshly issued nonce for ttl
	ReserveNonce(ctx context.Context, nonce string, ttl time.Duration) error
	// ConsumeNonce removes the nonce and reports whether it was outstanding
	ConsumeNonce(ctx context.Context, nonce string) (bool, error)
}
