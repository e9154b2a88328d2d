package paymaster

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Accepted ECDSA encodings over secp256k1.
const (
	// SignatureLengthCompact is the EIP-2098 form: r ‖ yParityAndS.
	SignatureLengthCompact = 64
	// SignatureLengthFull is the classic form: r ‖ s ‖ v.
	SignatureLengthFull = 65
)

var errSignatureUnrecoverable = errors.New("paymaster: signature recovery failed")

// ValidSignatureLength reports whether n is one of the two accepted
// encodings.
func ValidSignatureLength(n int) bool {
	return n == SignatureLengthCompact || n == SignatureLengthFull
}

// normalizeSignature expands both accepted encodings into the 65-byte
// r ‖ s ‖ v form with v ∈ {0, 1} expected by the recovery primitive.
func normalizeSignature(sig []byte) ([]byte, error) {
	switch len(sig) {
	case SignatureLengthFull:
		out := make([]byte, SignatureLengthFull)
		copy(out, sig)
		if out[64] >= 27 {
			out[64] -= 27
		}
		if out[64] > 1 {
			return nil, fmt.Errorf("%w: recovery id %d", errSignatureUnrecoverable, sig[64])
		}
		return out, nil
	case SignatureLengthCompact:
		out := make([]byte, SignatureLengthFull)
		copy(out[:32], sig[:32])
		copy(out[32:64], sig[32:64])
		// EIP-2098: the parity bit rides on the top bit of s.
		out[64] = sig[32] >> 7
		out[32] &= 0x7f
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSignatureLength, len(sig))
	}
}

// RecoverAuthority returns the address that produced sig over hash. A
// malformed signature or failed recovery yields errSignatureUnrecoverable
// wrapped with detail; the caller decides whether that is fatal.
func RecoverAuthority(hash common.Hash, sig []byte) (common.Address, error) {
	normalized, err := normalizeSignature(sig)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", errSignatureUnrecoverable, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyAuthority reports whether sig over hash was produced by expected.
// Recovery failures and signer mismatches both read as false: to the caller a
// bad signature is a normal rejection, not an exception.
func VerifyAuthority(hash common.Hash, sig []byte, expected common.Address) bool {
	recovered, err := RecoverAuthority(hash, sig)
	if err != nil {
		return false
	}
	return recovered == expected
}
