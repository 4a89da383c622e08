package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/warden/core"
)

const (
	incrementCounterSQL = `INSERT INTO rate_limit_counters (key, count, window_start)
VALUES ($1, $4, $2)
ON CONFLICT (key) DO UPDATE SET
    count = CASE WHEN rate_limit_counters.window_start + make_interval(secs => $3) <= $2
        THEN $4 ELSE rate_limit_counters.count + $4 END,
    window_start = CASE WHEN rate_limit_counters.window_start + make_interval(secs => $3) <= $2
        THEN $2 ELSE rate_limit_counters.window_start END
RETURNING count, window_start`

	getBlacklistSQL = `SELECT ip_address, reason, created_at, expires_at
FROM ip_blacklist
WHERE ip_address = $1 AND (expires_at IS NULL OR expires_at > $2)`

	addBlacklistSQL = `INSERT INTO ip_blacklist (ip_address, reason, created_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (ip_address) DO UPDATE SET
    reason = EXCLUDED.reason,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at`

	removeBlacklistSQL = `DELETE FROM ip_blacklist WHERE ip_address = $1`

	upsertDeviceSQL = `INSERT INTO device_fingerprints
    (user_id, fingerprint_hash, first_seen_at, last_seen_at, ip_address, user_agent)
VALUES ($1, $2, $3, $3, $4, $5)
ON CONFLICT (user_id, fingerprint_hash) DO UPDATE SET
    last_seen_at = EXCLUDED.last_seen_at,
    ip_address = EXCLUDED.ip_address,
    user_agent = EXCLUDED.user_agent
RETURNING (xmax = 0) AS inserted`

	listDevicesSQL = `SELECT user_id, fingerprint_hash, first_seen_at, last_seen_at, ip_address, user_agent
FROM device_fingerprints
WHERE user_id = $1
ORDER BY first_seen_at`

	appendActivitySQL = `INSERT INTO suspicious_activity (id, kind, description, severity, context, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	reserveNonceSQL = `INSERT INTO challenge_nonces (nonce, expires_at) VALUES ($1, $2)`

	consumeNonceSQL = `DELETE FROM challenge_nonces WHERE nonce = $1 RETURNING expires_at > $2`
)

// PostgresStore is a Postgres implementation of every store port. Each
// operation is a single statement, so row-level locking on the conflict
// target makes counter increments and device upserts atomic.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore returns a store that uses db for persistence
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Increment atomically adds delta to the fixed-window counter for key
func (s *PostgresStore) Increment(ctx context.Context, key string, delta int64, window time.Duration) (int64, time.Time, error) {
	var (
		count       int64
		windowStart time.Time
	)
	err := s.db.QueryRowContext(ctx, incrementCounterSQL, key, s.now(), window.Seconds(), delta).
		Scan(&count, &windowStart)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, windowStart, nil
}

// GetBlacklistEntry returns the active blacklist entry for ip, or nil
func (s *PostgresStore) GetBlacklistEntry(ctx context.Context, ip string) (*core.BlacklistEntry, error) {
	var (
		entry     core.BlacklistEntry
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, getBlacklistSQL, ip, s.now()).
		Scan(&entry.IPAddress, &entry.Reason, &entry.CreatedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read blacklist: %w", err)
	}
	if expiresAt.Valid {
		entry.ExpiresAt = &expiresAt.Time
	}
	return &entry, nil
}

// AddBlacklistEntry adds or replaces the entry for entry.IPAddress
func (s *PostgresStore) AddBlacklistEntry(ctx context.Context, entry core.BlacklistEntry) error {
	var expiresAt interface{}
	if entry.ExpiresAt != nil {
		expiresAt = *entry.ExpiresAt
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, addBlacklistSQL, entry.IPAddress, entry.Reason, createdAt, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to write blacklist: %w", err)
	}
	return nil
}

// RemoveBlacklistEntry removes ip from the blacklist
func (s *PostgresStore) RemoveBlacklistEntry(ctx context.Context, ip string) error {
	if _, err := s.db.ExecContext(ctx, removeBlacklistSQL, ip); err != nil {
		return fmt.Errorf("failed to remove blacklist entry: %w", err)
	}
	return nil
}

// UpsertDevice inserts or refreshes a device record
func (s *PostgresStore) UpsertDevice(ctx context.Context, record core.DeviceRecord) (bool, error) {
	var inserted bool
	err := s.db.QueryRowContext(ctx, upsertDeviceSQL,
		record.UserID, record.FingerprintHash, record.LastSeenAt, record.IPAddress, record.UserAgent,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert device: %w", err)
	}
	return inserted, nil
}

// ListDevices returns the devices of userID, oldest first
func (s *PostgresStore) ListDevices(ctx context.Context, userID string) ([]core.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, listDevicesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	out := make([]core.DeviceRecord, 0)
	for rows.Next() {
		var rec core.DeviceRecord
		if err := rows.Scan(
			&rec.UserID,
			&rec.FingerprintHash,
			&rec.FirstSeenAt,
			&rec.LastSeenAt,
			&rec.IPAddress,
			&rec.UserAgent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return out, nil
}

// AppendActivity inserts event into the append-only activity table
func (s *PostgresStore) AppendActivity(ctx context.Context, event core.SuspiciousActivityEvent) error {
	eventContext := event.Context
	if eventContext == nil {
		eventContext = map[string]string{}
	}
	raw, err := json.Marshal(eventContext)
	if err != nil {
		return fmt.Errorf("failed to encode activity context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, appendActivitySQL,
		event.ID, event.Kind, event.Description, event.Severity, raw, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

// ReserveNonce records an outstanding nonce for ttl
func (s *PostgresStore) ReserveNonce(ctx context.Context, nonce string, ttl time.Duration) error {
	if _, err := s.db.ExecContext(ctx, reserveNonceSQL, nonce, s.now().Add(ttl)); err != nil {
		return fmt.Errorf("failed to reserve nonce: %w", err)
	}
	return nil
}

// ConsumeNonce deletes nonce, reporting whether it was outstanding and unexpired
func (s *PostgresStore) ConsumeNonce(ctx context.Context, nonce string) (bool, error) {
	var valid bool
	err := s.db.QueryRowContext(ctx, consumeNonceSQL, nonce, s.now()).Scan(&valid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}
	return valid, nil
}
