package signature

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/warden/address"
	"github.com/layer-3/warden/core"
)

const evmSignatureLength = 65

// verifyEVM recovers the personal_sign signer of message and compares it to
// addr. The recovery id may be encoded as 0/1 or 27/28.
func verifyEVM(addr, sig, message string) core.VerificationResult {
	if !address.IsValidEVMAddress(addr) {
		return failure(core.ErrorKindInvalidFormat)
	}

	if !strings.HasPrefix(sig, "0x") && !strings.HasPrefix(sig, "0X") {
		sig = "0x" + sig
	}
	raw, err := hexutil.Decode(sig)
	if err != nil || len(raw) != evmSignatureLength {
		return failure(core.ErrorKindInvalidFormat)
	}

	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	if raw[crypto.RecoveryIDOffset] > 1 {
		return failure(core.ErrorKindInvalidFormat)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), raw)
	if err != nil {
		return failure(core.ErrorKindInvalidFormat)
	}

	recovered := crypto.PubkeyToAddress(*pub).Hex()
	if !strings.EqualFold(recovered, addr) {
		return mismatch(recovered)
	}
	return success(recovered)
}
