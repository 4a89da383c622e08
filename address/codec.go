// Package address validates and canonicalizes wallet addresses and
// transaction hashes for the supported chains.
//
// All functions accept untrusted input and report failure through their
// return values; none of them panic.
package address

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/warden/core"
	"github.com/mr-tron/base58"
)

var (
	evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	hexBodyRe    = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
	suiAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	evmTxHashRe  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	hex64Re      = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// IsValidAddress reports whether address is well formed for chain
func IsValidAddress(address string, chain core.ChainKind) bool {
	switch chain {
	case core.ChainEthereum, core.ChainBase:
		return IsValidEVMAddress(address)
	case core.ChainSolana:
		return IsValidSolanaAddress(address)
	case core.ChainSui:
		return IsValidSuiAddress(address)
	}
	return false
}

// IsValidEVMAddress accepts 0x-prefixed 20 byte hex addresses. Mixed-case
// addresses must carry a valid EIP-55 checksum; all-lowercase and
// all-uppercase bodies are accepted without one.
func IsValidEVMAddress(address string) bool {
	if !evmAddressRe.MatchString(address) {
		return false
	}
	body := address[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return checksum(body) == address
}

// IsValidSolanaAddress accepts base58 strings of 32 to 44 characters
func IsValidSolanaAddress(address string) bool {
	return isBase58(address, 32, 44)
}

// IsValidSuiAddress accepts 0x followed by exactly 64 hex characters
func IsValidSuiAddress(address string) bool {
	return suiAddressRe.MatchString(address)
}

// ToChecksumAddress returns the EIP-55 form of a 40 hex character address,
// with or without the 0x prefix.
func ToChecksumAddress(address string) (string, error) {
	body := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	if !hexBodyRe.MatchString(body) {
		return "", core.ErrInvalidFormat
	}
	return checksum(body), nil
}

// SanitizeAddress trims and validates address. EVM addresses come back in
// their checksummed form, other chains unchanged. ok is false when the
// address is not valid for chain.
//
// Callers must use this before persisting or comparing addresses.
func SanitizeAddress(address string, chain core.ChainKind) (string, bool) {
	address = strings.TrimSpace(address)
	if !IsValidAddress(address, chain) {
		return "", false
	}
	if chain.IsEVM() {
		sum, err := ToChecksumAddress(address)
		if err != nil {
			return "", false
		}
		return sum, true
	}
	return address, true
}

// IsValidTxHash reports whether hash looks like a transaction hash on chain
func IsValidTxHash(hash string, chain core.ChainKind) bool {
	switch chain {
	case core.ChainEthereum, core.ChainBase:
		return evmTxHashRe.MatchString(hash)
	case core.ChainSolana:
		return isBase58(hash, 87, 88)
	case core.ChainSui:
		// Sui digests are seen both hex and base58 encoded
		return hex64Re.MatchString(hash) || isBase58(hash, 43, 44)
	}
	return false
}

func checksum(body string) string {
	return common.HexToAddress(body).Hex()
}

func isBase58(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	_, err := base58.Decode(s)
	return err == nil
}
