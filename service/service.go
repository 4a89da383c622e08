// Package service implements the trust and access components: challenge
// issuance and wallet login, rate limiting, IP blacklisting, device
// fingerprint tracking, suspicious activity scoring and the per-request
// guard pipeline that ties them together.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/warden/core"
)

// DefaultStoreTimeout bounds every store round trip made by this package
const DefaultStoreTimeout = 2 * time.Second

func withStoreTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, core.ErrStoreUnavailable, err)
}

func loggerOrNop(logger watermill.LoggerAdapter) watermill.LoggerAdapter {
	if logger == nil {
		return watermill.NopLogger{}
	}
	return logger
}
