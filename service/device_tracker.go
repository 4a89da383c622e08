package service

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// DeviceContext describes the request a fingerprint was seen on
type DeviceContext struct {
	IPAddress string
	UserAgent string
}

// DeviceTracker records device fingerprints per user and flags new ones.
// It only observes; blocking on a new device is left to the caller.
type DeviceTracker struct {
	store   ports.DeviceStore
	timeout time.Duration
	now     func() time.Time
}

// NewDeviceTracker creates a new device tracker backed by store
func NewDeviceTracker(store ports.DeviceStore, timeout time.Duration) *DeviceTracker {
	return &DeviceTracker{
		store:   store,
		timeout: timeout,
		now:     time.Now,
	}
}

// RegisterDeviceFingerprint records a sighting of fingerprintHash for
// userID and reports whether the device had not been seen before.
func (t *DeviceTracker) RegisterDeviceFingerprint(ctx context.Context, userID, fingerprintHash string, dc DeviceContext) (bool, error) {
	if userID == "" || fingerprintHash == "" {
		return false, fmt.Errorf("user id and fingerprint are required: %w", core.ErrInvalidFormat)
	}

	now := t.now()
	ctx, cancel := withStoreTimeout(ctx, t.timeout)
	defer cancel()

	created, err := t.store.UpsertDevice(ctx, core.DeviceRecord{
		UserID:          userID,
		FingerprintHash: fingerprintHash,
		FirstSeenAt:     now,
		LastSeenAt:      now,
		IPAddress:       dc.IPAddress,
		UserAgent:       dc.UserAgent,
	})
	if err != nil {
		return false, storeError("device upsert", err)
	}
	return created, nil
}

// ListDevices returns the devices known for userID
func (t *DeviceTracker) ListDevices(ctx context.Context, userID string) ([]core.DeviceRecord, error) {
	ctx, cancel := withStoreTimeout(ctx, t.timeout)
	defer cancel()

	devices, err := t.store.ListDevices(ctx, userID)
	if err != nil {
		return nil, storeError("device list", err)
	}
	return devices, nil
}
