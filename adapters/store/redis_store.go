package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/layer-3/warden/core"
	"github.com/redis/go-redis/v9"
)

//go:embed ratelimit.lua
var rateLimitLua string

//go:embed device.lua
var deviceLua string

var (
	rateLimitScript = redis.NewScript(rateLimitLua)
	deviceScript    = redis.NewScript(deviceLua)
)

const (
	defaultPrefix        = "warden:"
	activityStreamMaxLen = 100000
	activityStreamSuffix = "activity"
	nonceValue           = "1"
)

// RedisStore is a Redis implementation of every store port. Counters are
// incremented by a Lua script so concurrent requests from any number of
// instances never lose updates.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: defaultPrefix,
		now:    time.Now,
	}
}

func (s *RedisStore) counterKey(key string) string {
	return s.prefix + "ratelimit:" + key
}

func (s *RedisStore) blacklistKey(ip string) string {
	return s.prefix + "blacklist:" + ip
}

// device keys share a hash tag so the upsert script stays in one slot
func (s *RedisStore) deviceKey(userID, fingerprint string) string {
	return s.prefix + "device:{" + userID + "}:" + fingerprint
}

func (s *RedisStore) deviceIndexKey(userID string) string {
	return s.prefix + "devices:{" + userID + "}"
}

func (s *RedisStore) nonceKey(nonce string) string {
	return s.prefix + "nonce:" + nonce
}

// Increment atomically adds delta to the fixed-window counter for key
func (s *RedisStore) Increment(ctx context.Context, key string, delta int64, window time.Duration) (int64, time.Time, error) {
	now := s.now()
	res, err := rateLimitScript.Run(ctx, s.client,
		[]string{s.counterKey(key)},
		window.Milliseconds(), now.UnixMilli(), delta,
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment counter: %w", err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected counter reply of length %d", len(res))
	}

	return res[0], time.UnixMilli(res[1]), nil
}

// GetBlacklistEntry returns the blacklist entry for ip, or nil
func (s *RedisStore) GetBlacklistEntry(ctx context.Context, ip string) (*core.BlacklistEntry, error) {
	raw, err := s.client.Get(ctx, s.blacklistKey(ip)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read blacklist: %w", err)
	}

	var entry core.BlacklistEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode blacklist entry: %w", err)
	}
	if !entry.Active(s.now()) {
		return nil, nil
	}
	return &entry, nil
}

// AddBlacklistEntry stores entry, expiring it with its ExpiresAt if set
func (s *RedisStore) AddBlacklistEntry(ctx context.Context, entry core.BlacklistEntry) error {
	var ttl time.Duration
	if entry.ExpiresAt != nil {
		ttl = entry.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode blacklist entry: %w", err)
	}
	if err := s.client.Set(ctx, s.blacklistKey(entry.IPAddress), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write blacklist: %w", err)
	}
	return nil
}

// RemoveBlacklistEntry removes ip from the blacklist
func (s *RedisStore) RemoveBlacklistEntry(ctx context.Context, ip string) error {
	if err := s.client.Del(ctx, s.blacklistKey(ip)).Err(); err != nil {
		return fmt.Errorf("failed to remove blacklist entry: %w", err)
	}
	return nil
}

// UpsertDevice inserts or refreshes a device record in one round trip
func (s *RedisStore) UpsertDevice(ctx context.Context, record core.DeviceRecord) (bool, error) {
	created, err := deviceScript.Run(ctx, s.client,
		[]string{s.deviceKey(record.UserID, record.FingerprintHash), s.deviceIndexKey(record.UserID)},
		record.UserID, record.FingerprintHash, record.LastSeenAt.UnixMilli(), record.IPAddress, record.UserAgent,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to upsert device: %w", err)
	}
	return created == 1, nil
}

// ListDevices returns the devices of userID, oldest first
func (s *RedisStore) ListDevices(ctx context.Context, userID string) ([]core.DeviceRecord, error) {
	fingerprints, err := s.client.SMembers(ctx, s.deviceIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(fingerprints))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, fp := range fingerprints {
			cmds[i] = p.HGetAll(ctx, s.deviceKey(userID, fp))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read devices: %w", err)
	}

	out := make([]core.DeviceRecord, 0, len(cmds))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		out = append(out, core.DeviceRecord{
			UserID:          fields["user"],
			FingerprintHash: fields["fingerprint"],
			FirstSeenAt:     parseMillis(fields["first_seen"]),
			LastSeenAt:      parseMillis(fields["last_seen"]),
			IPAddress:       fields["ip"],
			UserAgent:       fields["ua"],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
	})
	return out, nil
}

// AppendActivity appends event to a capped Redis stream
func (s *RedisStore) AppendActivity(ctx context.Context, event core.SuspiciousActivityEvent) error {
	eventContext, err := json.Marshal(event.Context)
	if err != nil {
		return fmt.Errorf("failed to encode activity context: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.prefix + activityStreamSuffix,
		MaxLen: activityStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":          event.ID,
			"kind":        event.Kind,
			"description": event.Description,
			"severity":    event.Severity,
			"context":     string(eventContext),
			"occurred_at": event.OccurredAt.UnixMilli(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

// ReserveNonce records an outstanding nonce for ttl
func (s *RedisStore) ReserveNonce(ctx context.Context, nonce string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.nonceKey(nonce), nonceValue, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve nonce: %w", err)
	}
	if !ok {
		return fmt.Errorf("nonce already reserved: %w", core.ErrChallengeReplayed)
	}
	return nil
}

// ConsumeNonce atomically removes nonce, reporting whether it was outstanding
func (s *RedisStore) ConsumeNonce(ctx context.Context, nonce string) (bool, error) {
	err := s.client.GetDel(ctx, s.nonceKey(nonce)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}
	return true, nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
