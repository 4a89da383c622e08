package service

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// Blacklist answers whether an IP address is currently blocked
type Blacklist struct {
	store   ports.BlacklistStore
	timeout time.Duration
	logger  watermill.LoggerAdapter
	now     func() time.Time
}

// NewBlacklist creates a new blacklist backed by store
func NewBlacklist(store ports.BlacklistStore, timeout time.Duration, logger watermill.LoggerAdapter) *Blacklist {
	return &Blacklist{
		store:   store,
		timeout: timeout,
		logger:  loggerOrNop(logger),
		now:     time.Now,
	}
}

// IsBlacklisted reports whether a non-expired entry exists for ip. The
// lookup is an exact string match.
func (b *Blacklist) IsBlacklisted(ctx context.Context, ip string) (bool, error) {
	ctx, cancel := withStoreTimeout(ctx, b.timeout)
	defer cancel()

	entry, err := b.store.GetBlacklistEntry(ctx, ip)
	if err != nil {
		return false, storeError("blacklist lookup", err)
	}
	return entry.Active(b.now()), nil
}

// Add blocks ip for ttl, or permanently when ttl is zero
func (b *Blacklist) Add(ctx context.Context, ip, reason string, ttl time.Duration) error {
	now := b.now()
	entry := core.BlacklistEntry{
		IPAddress: ip,
		Reason:    reason,
		CreatedAt: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		entry.ExpiresAt = &expiresAt
	}

	ctx, cancel := withStoreTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.store.AddBlacklistEntry(ctx, entry); err != nil {
		return storeError("blacklist add", err)
	}

	b.logger.Info("IP blacklisted", watermill.LogFields{
		"ip":     ip,
		"reason": reason,
		"ttl":    ttl.String(),
	})
	return nil
}

// Remove unblocks ip
func (b *Blacklist) Remove(ctx context.Context, ip string) error {
	ctx, cancel := withStoreTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.store.RemoveBlacklistEntry(ctx, ip); err != nil {
		return storeError("blacklist remove", err)
	}
	return nil
}
