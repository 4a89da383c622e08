package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/layer-3/warden/core"
)

var errStoreDown = errors.New("connection refused")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// brokenStore fails every store operation
type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, int64, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errStoreDown
}

func (brokenStore) GetBlacklistEntry(context.Context, string) (*core.BlacklistEntry, error) {
	return nil, errStoreDown
}

func (brokenStore) AddBlacklistEntry(context.Context, core.BlacklistEntry) error {
	return errStoreDown
}

func (brokenStore) RemoveBlacklistEntry(context.Context, string) error {
	return errStoreDown
}

func (brokenStore) UpsertDevice(context.Context, core.DeviceRecord) (bool, error) {
	return false, errStoreDown
}

func (brokenStore) ListDevices(context.Context, string) ([]core.DeviceRecord, error) {
	return nil, errStoreDown
}

func (brokenStore) AppendActivity(context.Context, core.SuspiciousActivityEvent) error {
	return errStoreDown
}

func (brokenStore) ReserveNonce(context.Context, string, time.Duration) error {
	return errStoreDown
}

func (brokenStore) ConsumeNonce(context.Context, string) (bool, error) {
	return false, errStoreDown
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.SuspiciousActivityEvent
	err    error
}

func (p *recordingPublisher) PublishSuspiciousActivity(_ context.Context, event core.SuspiciousActivityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []core.SuspiciousActivityEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.SuspiciousActivityEvent(nil), p.events...)
}
