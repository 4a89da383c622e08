package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// Severity weights used by this package
const (
	SeverityInvalidSignature = 30
	SeverityRateLimitAbuse   = 50
	SeverityChallengeReplay  = 60
)

// ActivityScorer records weighted suspicious activity events. It appends
// each event to the activity log, then hands it to the publisher and any
// registered policies on a best-effort basis.
type ActivityScorer struct {
	log       ports.ActivityLog
	publisher ports.EventPublisher
	policies  []ports.ActivityPolicy
	timeout   time.Duration
	logger    watermill.LoggerAdapter
	now       func() time.Time
}

// NewActivityScorer creates a new scorer. publisher may be nil.
func NewActivityScorer(
	log ports.ActivityLog,
	publisher ports.EventPublisher,
	timeout time.Duration,
	logger watermill.LoggerAdapter,
) *ActivityScorer {
	return &ActivityScorer{
		log:       log,
		publisher: publisher,
		timeout:   timeout,
		logger:    loggerOrNop(logger),
		now:       time.Now,
	}
}

// AddPolicy registers a policy evaluated after every recorded event
func (s *ActivityScorer) AddPolicy(policy ports.ActivityPolicy) {
	s.policies = append(s.policies, policy)
}

// LogSuspiciousActivity records an event. severity is clamped into 0..100.
// Only a failure to append to the log is returned.
func (s *ActivityScorer) LogSuspiciousActivity(
	ctx context.Context,
	kind, description string,
	severity int,
	eventContext map[string]string,
) error {
	event := core.SuspiciousActivityEvent{
		ID:          uuid.New().String(),
		Kind:        kind,
		Description: description,
		Severity:    clampSeverity(severity),
		Context:     eventContext,
		OccurredAt:  s.now(),
	}

	appendCtx, cancel := withStoreTimeout(ctx, s.timeout)
	err := s.log.AppendActivity(appendCtx, event)
	cancel()
	if err != nil {
		return storeError("activity log", err)
	}

	s.logger.Info("Suspicious activity", watermill.LogFields{
		"event_id": event.ID,
		"kind":     event.Kind,
		"severity": event.Severity,
	})

	if s.publisher != nil {
		if err := s.publisher.PublishSuspiciousActivity(ctx, event); err != nil {
			s.logger.Error("Failed to publish suspicious activity", err, watermill.LogFields{"event_id": event.ID})
		}
	}

	for _, policy := range s.policies {
		if err := policy.Evaluate(ctx, event); err != nil {
			s.logger.Error("Activity policy failed", err, watermill.LogFields{"event_id": event.ID})
		}
	}

	return nil
}

func clampSeverity(severity int) int {
	if severity < 0 {
		return 0
	}
	if severity > 100 {
		return 100
	}
	return severity
}

// ScoreBlacklistPolicy keeps a windowed aggregate severity score per source
// IP and blacklists the IP once the score reaches a threshold
type ScoreBlacklistPolicy struct {
	counters  ports.CounterStore
	blacklist *Blacklist
	threshold int64
	window    time.Duration
	ttl       time.Duration
	timeout   time.Duration
}

// NewScoreBlacklistPolicy creates a policy that sums event severities per IP
// over window and blocks the IP for ttl once the sum reaches threshold
func NewScoreBlacklistPolicy(
	counters ports.CounterStore,
	blacklist *Blacklist,
	threshold int,
	window, ttl, timeout time.Duration,
) *ScoreBlacklistPolicy {
	return &ScoreBlacklistPolicy{
		counters:  counters,
		blacklist: blacklist,
		threshold: int64(threshold),
		window:    window,
		ttl:       ttl,
		timeout:   timeout,
	}
}

// Evaluate adds the event severity to the score of event.Context["ip"]
func (p *ScoreBlacklistPolicy) Evaluate(ctx context.Context, event core.SuspiciousActivityEvent) error {
	ip := event.Context["ip"]
	if ip == "" || event.Severity <= 0 {
		return nil
	}

	scoreCtx, cancel := withStoreTimeout(ctx, p.timeout)
	score, _, err := p.counters.Increment(scoreCtx, scoreKey(ip), int64(event.Severity), p.window)
	cancel()
	if err != nil {
		return storeError("activity score", err)
	}
	if score < p.threshold {
		return nil
	}
	return p.blacklist.Add(ctx, ip, fmt.Sprintf("automatic: score %d after %s", score, event.Kind), p.ttl)
}

func scoreKey(ip string) string {
	return "score:" + string(core.IdentifierIP) + ":" + ip
}
