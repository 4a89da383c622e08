package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/warden/core"
)

// FailPolicy decides what a guard step does when its store is unavailable
type FailPolicy int

const (
	// FailClosed rejects the request when the store fails
	FailClosed FailPolicy = iota
	// FailOpen lets the request through when the store fails
	FailOpen
)

// Outcome is the result of evaluating a request against the guard
type Outcome string

const (
	OutcomeAllow           Outcome = "allow"
	OutcomeForbidden       Outcome = "forbidden"
	OutcomeTooManyRequests Outcome = "too_many_requests"
	OutcomeUnavailable     Outcome = "unavailable"
)

// RateLimitRule is the limit an endpoint declares
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// GuardRequest carries what the guard needs to know about a request
type GuardRequest struct {
	IPAddress   string
	UserID      string // empty for unauthenticated requests
	Endpoint    string
	Rule        *RateLimitRule // nil when the endpoint is not rate limited
	Fingerprint string
	UserAgent   string
}

// GuardDecision is the verdict for a request
type GuardDecision struct {
	Outcome     Outcome
	RateLimit   *core.RateLimitResult
	RetryAfter  int // seconds, set for OutcomeTooManyRequests
	IsNewDevice bool
}

// Allowed reports whether the request may proceed
func (d GuardDecision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// GuardConfig holds the store failure policy of each step
type GuardConfig struct {
	BlacklistFailPolicy FailPolicy
	RateLimitFailPolicy FailPolicy
}

// Guard evaluates every inbound request: IP blacklist, then rate limit,
// then device fingerprint registration. It stops at the first rejection.
type Guard struct {
	blacklist *Blacklist
	limiter   *RateLimiter
	devices   *DeviceTracker
	activity  *ActivityScorer
	cfg       GuardConfig
	logger    watermill.LoggerAdapter
	now       func() time.Time
}

// NewGuard creates a new guard pipeline
func NewGuard(
	blacklist *Blacklist,
	limiter *RateLimiter,
	devices *DeviceTracker,
	activity *ActivityScorer,
	cfg GuardConfig,
	logger watermill.LoggerAdapter,
) *Guard {
	return &Guard{
		blacklist: blacklist,
		limiter:   limiter,
		devices:   devices,
		activity:  activity,
		cfg:       cfg,
		logger:    loggerOrNop(logger),
		now:       time.Now,
	}
}

// Evaluate runs the guard steps for req. A non-nil error is returned only
// together with OutcomeUnavailable, when a fail-closed store is down.
func (g *Guard) Evaluate(ctx context.Context, req GuardRequest) (GuardDecision, error) {
	decision := GuardDecision{Outcome: OutcomeAllow}

	blocked, err := g.blacklist.IsBlacklisted(ctx, req.IPAddress)
	if err != nil {
		if g.cfg.BlacklistFailPolicy == FailClosed {
			g.logger.Error("Blacklist unavailable, rejecting request", err, watermill.LogFields{"ip": req.IPAddress})
			return GuardDecision{Outcome: OutcomeUnavailable}, err
		}
		g.logger.Error("Blacklist unavailable, failing open", err, watermill.LogFields{"ip": req.IPAddress})
	} else if blocked {
		g.logger.Info("Blacklisted IP rejected", watermill.LogFields{
			"ip":       req.IPAddress,
			"endpoint": req.Endpoint,
		})
		return GuardDecision{Outcome: OutcomeForbidden}, nil
	}

	if req.Rule != nil {
		identifier, kind := req.IPAddress, core.IdentifierIP
		if req.UserID != "" {
			identifier, kind = req.UserID, core.IdentifierUser
		}

		res, err := g.limiter.CheckRateLimit(ctx, identifier, req.Endpoint, req.Rule.Limit, req.Rule.Window, kind)
		switch {
		case err != nil && g.cfg.RateLimitFailPolicy == FailClosed:
			g.logger.Error("Rate limiter unavailable, rejecting request", err, watermill.LogFields{
				"identifier": identifier,
				"endpoint":   req.Endpoint,
			})
			return GuardDecision{Outcome: OutcomeUnavailable}, err
		case err != nil:
			g.logger.Error("Rate limiter unavailable, failing open", err, watermill.LogFields{
				"identifier": identifier,
				"endpoint":   req.Endpoint,
			})
		default:
			decision.RateLimit = &res
			if ReachedAbuseLevel(res) {
				g.reportAbuse(ctx, req, identifier, kind, res)
			}
			if !res.Allowed {
				decision.Outcome = OutcomeTooManyRequests
				decision.RetryAfter = res.RetryAfter(g.now())
				return decision, nil
			}
		}
	}

	if req.UserID != "" && req.Fingerprint != "" {
		isNew, err := g.devices.RegisterDeviceFingerprint(ctx, req.UserID, req.Fingerprint, DeviceContext{
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		})
		if err != nil {
			g.logger.Error("Failed to register device fingerprint", err, watermill.LogFields{"user_id": req.UserID})
		} else {
			decision.IsNewDevice = isNew
		}
	}

	return decision, nil
}

func (g *Guard) reportAbuse(ctx context.Context, req GuardRequest, identifier string, kind core.IdentifierKind, res core.RateLimitResult) {
	description := fmt.Sprintf("%s %s exceeded %d requests per %s on %s",
		kind, identifier, res.Limit, req.Rule.Window, req.Endpoint)

	err := g.activity.LogSuspiciousActivity(ctx, core.ActivityRateLimitAbuse, description, SeverityRateLimitAbuse, map[string]string{
		"ip":         req.IPAddress,
		"identifier": identifier,
		"endpoint":   req.Endpoint,
		"remaining":  strconv.Itoa(res.Remaining),
	})
	if err != nil {
		g.logger.Error("Failed to record rate limit abuse", err, watermill.LogFields{"identifier": identifier})
	}
}
