package core

import "strings"

// ChainKind identifies the blockchain a wallet address belongs to
type ChainKind string

const (
	ChainEthereum ChainKind = "ethereum"
	ChainBase     ChainKind = "base"
	ChainSolana   ChainKind = "solana"
	ChainSui      ChainKind = "sui"
)

// ParseChain normalizes a user supplied chain name. Unknown names are
// returned as-is so that callers can report them as unsupported.
func ParseChain(s string) ChainKind {
	return ChainKind(strings.ToLower(strings.TrimSpace(s)))
}

// IsEVM reports whether the chain belongs to the EVM family
func (c ChainKind) IsEVM() bool {
	return c == ChainEthereum || c == ChainBase
}

// IsSupported reports whether the chain is one of the known chains
func (c ChainKind) IsSupported() bool {
	switch c {
	case ChainEthereum, ChainBase, ChainSolana, ChainSui:
		return true
	}
	return false
}

// DisplayName returns the human readable chain name used in challenge messages
func (c ChainKind) DisplayName() string {
	switch c {
	case ChainEthereum:
		return "Ethereum"
	case ChainBase:
		return "Base"
	case ChainSolana:
		return "Solana"
	case ChainSui:
		return "Sui"
	}
	return string(c)
}

func (c ChainKind) String() string {
	return string(c)
}
