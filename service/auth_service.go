package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/warden/address"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// LoginRequest is a signed answer to a previously issued challenge
type LoginRequest struct {
	ChallengeToken string
	Address        string
	Signature      string
	IPAddress      string
	UserAgent      string
}

// AuthService handles wallet authentication business logic
type AuthService struct {
	issuer    *ChallengeIssuer
	tokenizer ports.ChallengeTokenizer
	nonces    ports.NonceStore
	verifier  ports.SignatureVerifier
	activity  *ActivityScorer
	timeout   time.Duration
	logger    watermill.LoggerAdapter
}

// NewAuthService creates a new authentication service
func NewAuthService(
	issuer *ChallengeIssuer,
	tokenizer ports.ChallengeTokenizer,
	nonces ports.NonceStore,
	verifier ports.SignatureVerifier,
	activity *ActivityScorer,
	timeout time.Duration,
	logger watermill.LoggerAdapter,
) *AuthService {
	return &AuthService{
		issuer:    issuer,
		tokenizer: tokenizer,
		nonces:    nonces,
		verifier:  verifier,
		activity:  activity,
		timeout:   timeout,
		logger:    loggerOrNop(logger),
	}
}

// CreateChallenge issues a challenge for address on chain, reserves its
// nonce and returns it together with its signed token
func (s *AuthService) CreateChallenge(ctx context.Context, addr string, chain core.ChainKind) (string, *core.Challenge, error) {
	if !chain.IsSupported() {
		return "", nil, core.ErrUnsupportedChain
	}
	canonical, ok := address.SanitizeAddress(addr, chain)
	if !ok {
		return "", nil, core.ErrInvalidFormat
	}

	challenge, err := s.issuer.GenerateChallenge(canonical, chain)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	reserveCtx, cancel := withStoreTimeout(ctx, s.timeout)
	err = s.nonces.ReserveNonce(reserveCtx, challenge.Nonce, s.issuer.TTL())
	cancel()
	if err != nil {
		return "", nil, storeError("nonce reserve", err)
	}

	token, err := s.tokenizer.ChallengeToToken(challenge)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create token: %w", err)
	}

	return token, challenge, nil
}

// Login verifies a signed challenge. The challenge nonce is consumed before
// the signature is checked, so every challenge allows a single attempt.
// Malformed input and wrong signers both yield ErrVerificationFailed.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (core.VerificationResult, error) {
	challenge, err := s.tokenizer.TokenToChallenge(req.ChallengeToken)
	if err != nil {
		if errors.Is(err, core.ErrChallengeExpired) {
			return core.VerificationResult{}, core.ErrChallengeExpired
		}
		return core.VerificationResult{}, fmt.Errorf("invalid challenge token: %w", core.ErrInvalidChallenge)
	}

	canonical, ok := address.SanitizeAddress(req.Address, challenge.Chain)
	if !ok || !sameAddress(challenge.Chain, canonical, challenge.Address) {
		s.recordFailure(ctx, req, challenge.Chain, core.ErrorKindInvalidFormat)
		return core.VerificationResult{Chain: challenge.Chain, Error: core.ErrorKindInvalidFormat}, core.ErrVerificationFailed
	}

	consumeCtx, cancel := withStoreTimeout(ctx, s.timeout)
	outstanding, err := s.nonces.ConsumeNonce(consumeCtx, challenge.Nonce)
	cancel()
	if err != nil {
		return core.VerificationResult{}, storeError("nonce consume", err)
	}
	if !outstanding {
		s.record(ctx, core.ActivityChallengeReplay, "challenge nonce reused or unknown", SeverityChallengeReplay, req, challenge.Chain, "")
		return core.VerificationResult{}, core.ErrChallengeReplayed
	}

	message := RenderChallengeMessage(challenge)
	res := s.verifier.Verify(canonical, req.Signature, message, challenge.Chain)
	if !res.Valid {
		s.recordFailure(ctx, req, challenge.Chain, res.Error)
		return res, core.ErrVerificationFailed
	}

	s.logger.Info("Wallet verified", watermill.LogFields{
		"address": res.RecoveredAddress,
		"chain":   string(challenge.Chain),
	})
	return res, nil
}

func (s *AuthService) recordFailure(ctx context.Context, req LoginRequest, chain core.ChainKind, kind core.ErrorKind) {
	s.record(ctx, core.ActivityInvalidSignature, "wallet signature verification failed", SeverityInvalidSignature, req, chain, string(kind))
}

func (s *AuthService) record(ctx context.Context, kind, description string, severity int, req LoginRequest, chain core.ChainKind, reason string) {
	eventContext := map[string]string{
		"ip":         req.IPAddress,
		"address":    req.Address,
		"chain":      string(chain),
		"user_agent": req.UserAgent,
	}
	if reason != "" {
		eventContext["reason"] = reason
	}
	if err := s.activity.LogSuspiciousActivity(ctx, kind, description, severity, eventContext); err != nil {
		s.logger.Error("Failed to record suspicious activity", err, watermill.LogFields{"kind": kind})
	}
}

// sameAddress compares canonical addresses; Sui hex is case-insensitive
func sameAddress(chain core.ChainKind, a, b string) bool {
	if chain == core.ChainSui {
		return strings.EqualFold(a, b)
	}
	return a == b
}
