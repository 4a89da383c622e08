package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/layer-3/warden/core"
)

type counter struct {
	count       int64
	windowStart time.Time
	window      time.Duration
}

type deviceKey struct {
	userID      string
	fingerprint string
}

// MemoryStore is an in-memory implementation of every store port. It is
// suitable for tests and single-instance deployments only: counters are not
// shared across processes.
type MemoryStore struct {
	mu         sync.Mutex
	now        func() time.Time
	counters   map[string]*counter
	blacklist  map[string]core.BlacklistEntry
	devices    map[deviceKey]core.DeviceRecord
	nonces     map[string]time.Time
	activities []core.SuspiciousActivityEvent
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a new in-memory store driven by now
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:       now,
		counters:  make(map[string]*counter),
		blacklist: make(map[string]core.BlacklistEntry),
		devices:   make(map[deviceKey]core.DeviceRecord),
		nonces:    make(map[string]time.Time),
	}
}

// Increment adds delta to the fixed-window counter for key
func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.windowStart.Add(window)) {
		c = &counter{windowStart: now, window: window}
		s.counters[key] = c
	}
	c.count += delta

	return c.count, c.windowStart, nil
}

// GetBlacklistEntry returns the blacklist entry for ip, or nil
func (s *MemoryStore) GetBlacklistEntry(ctx context.Context, ip string) (*core.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.blacklist[ip]
	if !ok {
		return nil, nil
	}
	if !entry.Active(s.now()) {
		delete(s.blacklist, ip)
		return nil, nil
	}
	return &entry, nil
}

// AddBlacklistEntry adds or replaces the blacklist entry for entry.IPAddress
func (s *MemoryStore) AddBlacklistEntry(ctx context.Context, entry core.BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blacklist[entry.IPAddress] = entry
	return nil
}

// RemoveBlacklistEntry removes ip from the blacklist
func (s *MemoryStore) RemoveBlacklistEntry(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blacklist, ip)
	return nil
}

// UpsertDevice inserts or refreshes a device record
func (s *MemoryStore) UpsertDevice(ctx context.Context, record core.DeviceRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := deviceKey{userID: record.UserID, fingerprint: record.FingerprintHash}
	existing, ok := s.devices[key]
	if !ok {
		s.devices[key] = record
		return true, nil
	}

	existing.LastSeenAt = record.LastSeenAt
	existing.IPAddress = record.IPAddress
	existing.UserAgent = record.UserAgent
	s.devices[key] = existing
	return false, nil
}

// ListDevices returns the devices of userID, oldest first
func (s *MemoryStore) ListDevices(ctx context.Context, userID string) ([]core.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.DeviceRecord, 0)
	for key, rec := range s.devices {
		if key.userID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
	})
	return out, nil
}

// AppendActivity appends event to the activity log
func (s *MemoryStore) AppendActivity(ctx context.Context, event core.SuspiciousActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activities = append(s.activities, event)
	return nil
}

// Activities returns a copy of the activity log
func (s *MemoryStore) Activities() []core.SuspiciousActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.SuspiciousActivityEvent, len(s.activities))
	copy(out, s.activities)
	return out
}

// ReserveNonce records an outstanding nonce
func (s *MemoryStore) ReserveNonce(ctx context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonces[nonce] = s.now().Add(ttl)
	return nil
}

// ConsumeNonce removes nonce, reporting whether it was outstanding
func (s *MemoryStore) ConsumeNonce(ctx context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.nonces[nonce]
	if !ok {
		return false, nil
	}
	delete(s.nonces, nonce)

	return s.now().Before(expiresAt), nil
}

// PruneExpired drops expired counters, nonces and blacklist entries
func (s *MemoryStore) PruneExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, c := range s.counters {
		if !now.Before(c.windowStart.Add(c.window)) {
			delete(s.counters, key)
		}
	}
	for nonce, expiresAt := range s.nonces {
		if !now.Before(expiresAt) {
			delete(s.nonces, nonce)
		}
	}
	for ip, entry := range s.blacklist {
		if !entry.Active(now) {
			delete(s.blacklist, ip)
		}
	}
}
