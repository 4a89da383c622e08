package ports

import "github.com/layer-3/warden/core"

// SignatureVerifier checks a wallet signature over a message
type SignatureVerifier interface {
	Verify(address, signature, message string, chain core.ChainKind) core.VerificationResult
}
