package ports

import (
	"context"

	"github.com/layer-3/warden/core"
)

// EventPublisher publishes security events to an external sink
type EventPublisher interface {
	PublishSuspiciousActivity(ctx context.Context, event core.SuspiciousActivityEvent) error
}

// ActivityPolicy reacts to recorded suspicious activity, e.g. by blacklisting
type ActivityPolicy interface {
	Evaluate(ctx context.Context, event core.SuspiciousActivityEvent) error
}
