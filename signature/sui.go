package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/layer-3/warden/address"
	"github.com/layer-3/warden/core"
	"golang.org/x/crypto/blake2b"
)

const (
	suiFlagEd25519     byte = 0x00
	suiMinSignatureLen      = 1 + ed25519.SignatureSize
)

// intent prefix for personal messages: scope PersonalMessage, version 0, app Sui
var suiPersonalMessageIntent = []byte{3, 0, 0}

// verifySui checks a serialized Sui signature (flag || sig || pubkey). The
// embedded public key must derive to addr, and the signature is accepted
// over either the raw message bytes or the personal message intent digest
// produced by Sui wallets.
func verifySui(addr, sig, message string) core.VerificationResult {
	if !address.IsValidSuiAddress(addr) {
		return failure(core.ErrorKindInvalidFormat)
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil || len(raw) < suiMinSignatureLen {
		return failure(core.ErrorKindInvalidFormat)
	}
	if raw[0] != suiFlagEd25519 {
		return failure(core.ErrorKindInvalidFormat)
	}

	sigBytes := raw[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(raw[len(raw)-ed25519.PublicKeySize:])

	derived := SuiAddressFromPublicKey(pub)
	if !strings.EqualFold(derived, addr) {
		return mismatch(derived)
	}

	msg := []byte(message)
	if ed25519.Verify(pub, msg, sigBytes) {
		return success(derived)
	}
	digest := SuiPersonalMessageDigest(msg)
	if ed25519.Verify(pub, digest[:], sigBytes) {
		return success(derived)
	}
	return mismatch(derived)
}

// SuiAddressFromPublicKey derives the Sui address of an Ed25519 public key:
// blake2b-256 over the scheme flag followed by the key.
func SuiAddressFromPublicKey(pub []byte) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, suiFlagEd25519)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}

// SuiPersonalMessageDigest returns the digest Sui wallets sign for a
// personal message: blake2b-256(intent || uleb128(len) || message).
func SuiPersonalMessageDigest(message []byte) [32]byte {
	buf := make([]byte, 0, len(suiPersonalMessageIntent)+5+len(message))
	buf = append(buf, suiPersonalMessageIntent...)
	buf = appendUleb128(buf, uint64(len(message)))
	buf = append(buf, message...)
	return blake2b.Sum256(buf)
}

func appendUleb128(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}
