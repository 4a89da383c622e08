package signature

import (
	"crypto/ed25519"

	"github.com/layer-3/warden/core"
	"github.com/mr-tron/base58"
)

// verifySolana checks a base58 detached Ed25519 signature made by the
// base58 public key addr.
func verifySolana(addr, sig, message string) core.VerificationResult {
	pub, err := base58.Decode(addr)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return failure(core.ErrorKindInvalidFormat)
	}
	raw, err := base58.Decode(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return failure(core.ErrorKindInvalidFormat)
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(message), raw) {
		return mismatch("")
	}
	return success(addr)
}
