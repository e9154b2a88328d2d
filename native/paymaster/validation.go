package paymaster

import "github.com/holiman/uint256"

// Validation data packs the signature outcome and the validity window into a
// single 256-bit word consumed by the caller:
//
//	bits 0..159    aggregator marker: 0 = self-validated, 1 = signature failed
//	bits 160..207  validUntil (48-bit)
//	bits 208..255  validAfter (48-bit)
//
// Multi-party aggregation is not implemented; the marker only ever carries
// the two values above.
const (
	validUntilShift = 160
	validAfterShift = 208
	window48Mask    = (uint64(1) << 48) - 1
)

// sigValidationFailed is the aggregator-slot marker for a failed signature
// check.
var sigValidationFailed = uint256.NewInt(1)

// PackValidationData assembles the packed validation word.
func PackValidationData(sigFailed bool, validUntil, validAfter uint64) *uint256.Int {
	packed := uint256.NewInt(validAfter & window48Mask)
	packed.Lsh(packed, validAfterShift-validUntilShift)
	packed.Or(packed, uint256.NewInt(validUntil&window48Mask))
	packed.Lsh(packed, validUntilShift)
	if sigFailed {
		packed.Or(packed, sigValidationFailed)
	}
	return packed
}

// ParseValidationData splits a packed validation word back into its parts.
func ParseValidationData(data *uint256.Int) (sigFailed bool, validUntil, validAfter uint64) {
	if data == nil {
		return false, 0, 0
	}
	marker := new(uint256.Int).And(data, new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), validUntilShift), 1))
	sigFailed = !marker.IsZero()
	validUntil = new(uint256.Int).Rsh(data, validUntilShift).Uint64() & window48Mask
	validAfter = new(uint256.Int).Rsh(data, validAfterShift).Uint64() & window48Mask
	return sigFailed, validUntil, validAfter
}
