package core

import "errors"

var (
	ErrInvalidFormat      = errors.New("invalid format")
	ErrSignatureMismatch  = errors.New("signature does not match")
	ErrUnsupportedChain   = errors.New("unsupported chain")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrInvalidChallenge   = errors.New("invalid challenge")
	ErrChallengeExpired   = errors.New("challenge has expired")
	ErrChallengeReplayed  = errors.New("challenge has already been used")
	ErrVerificationFailed = errors.New("signature does not match")
	ErrNotFound           = errors.New("not found")
)
