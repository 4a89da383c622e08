package core

import "time"

// Challenge represents an authentication challenge
type Challenge struct {
	ID        string    // Unique identifier for the challenge
	Address   string    // Canonical wallet address the challenge is bound to
	Chain     ChainKind // Chain the address belongs to
	Nonce     string    // Random base-36 nonce
	IssuedAt  time.Time // When the challenge was created (millisecond precision)
	ExpiresAt time.Time // When the challenge expires
	Domain    string    // Domain requesting the signature
	Message   string    // Rendered text the wallet must sign
}

// Expired reports whether the challenge is no longer valid at now
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ErrorKind classifies a failed verification
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindInvalidFormat     ErrorKind = "invalid_format"
	ErrorKindSignatureMismatch ErrorKind = "signature_mismatch"
	ErrorKindUnsupportedChain  ErrorKind = "unsupported_chain"
	ErrorKindStoreUnavailable  ErrorKind = "store_unavailable"
)

// Err maps the kind to its sentinel error, nil for ErrorKindNone
func (k ErrorKind) Err() error {
	switch k {
	case ErrorKindNone:
		return nil
	case ErrorKindInvalidFormat:
		return ErrInvalidFormat
	case ErrorKindSignatureMismatch:
		return ErrSignatureMismatch
	case ErrorKindUnsupportedChain:
		return ErrUnsupportedChain
	case ErrorKindStoreUnavailable:
		return ErrStoreUnavailable
	}
	return ErrInvalidFormat
}

// VerificationResult is the outcome of a single signature verification
type VerificationResult struct {
	Valid            bool
	RecoveredAddress string
	Chain            ChainKind
	Error            ErrorKind
}
