// Package signature verifies wallet signatures over challenge messages for
// every supported chain family.
package signature

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/warden/core"
)

// Verifier checks a signature against a message and a claimed address. It
// holds no mutable state and is safe for concurrent use.
type Verifier struct {
	logger watermill.LoggerAdapter
}

// NewVerifier creates a new verifier. A nil logger discards log output.
func NewVerifier(logger watermill.LoggerAdapter) *Verifier {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Verifier{logger: logger}
}

// Verify checks that signature was produced over message by the key owning
// address on chain. It never returns an error or panics; failures are
// reported through the result.
func (v *Verifier) Verify(address, signature, message string, chain core.ChainKind) core.VerificationResult {
	var res core.VerificationResult
	switch chain {
	case core.ChainEthereum, core.ChainBase:
		res = verifyEVM(address, signature, message)
	case core.ChainSolana:
		res = verifySolana(address, signature, message)
	case core.ChainSui:
		res = verifySui(address, signature, message)
	default:
		res = failure(core.ErrorKindUnsupportedChain)
	}
	res.Chain = chain

	if !res.Valid {
		v.logger.Debug("Signature verification failed", watermill.LogFields{
			"chain":   string(chain),
			"address": address,
			"reason":  string(res.Error),
		})
	}
	return res
}

func failure(kind core.ErrorKind) core.VerificationResult {
	return core.VerificationResult{Error: kind}
}

func mismatch(recovered string) core.VerificationResult {
	return core.VerificationResult{RecoveredAddress: recovered, Error: core.ErrorKindSignatureMismatch}
}

func success(recovered string) core.VerificationResult {
	return core.VerificationResult{Valid: true, RecoveredAddress: recovered}
}
