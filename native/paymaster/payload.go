package paymaster

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// PaymasterAndData layout:
//
//	[0:20]    paymaster address (fixed prefix, by convention)
//	[20:116]  abi-encoded (validUntil uint48, validAfter uint48, sponsorId bytes12)
//	[116:]    authority signature (64 or 65 bytes)
const (
	paymasterAddressOffset = 0
	authorizationOffset    = 20
	signatureOffset        = 116
)

// settlementContextSize is the strict abi-encoded width of the four-field
// settlement tuple.
const settlementContextSize = 128

func mustABIType(name string) abi.Type {
	typ, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("paymaster: abi type %s: %v", name, err))
	}
	return typ
}

var (
	uint48Type  = mustABIType("uint48")
	uint256Type = mustABIType("uint256")
	addressType = mustABIType("address")
	bytes12Type = mustABIType("bytes12")
)

var authorizationArgs = abi.Arguments{
	{Name: "validUntil", Type: uint48Type},
	{Name: "validAfter", Type: uint48Type},
	{Name: "sponsorId", Type: bytes12Type},
}

var settlementArgs = abi.Arguments{
	{Name: "sponsorId", Type: bytes12Type},
	{Name: "sender", Type: addressType},
	{Name: "reserved", Type: uint256Type},
	{Name: "postOpCost", Type: uint256Type},
}

const maxUint48 = (uint64(1) << 48) - 1

// DecodeAuthorization parses the PaymasterAndData blob into its structured
// form. Signature length is deliberately NOT validated here; enforcing the
// 64/65-byte gate is the caller's post-condition so that malformed-tuple and
// bad-signature failures stay distinguishable.
func DecodeAuthorization(blob []byte) (*AuthorizationPayload, error) {
	if len(blob) < signatureOffset {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPayload, len(blob), signatureOffset)
	}
	values, err := authorizationArgs.Unpack(blob[authorizationOffset:signatureOffset])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedPayload, len(values))
	}
	validUntil, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: validUntil has unexpected type", ErrMalformedPayload)
	}
	validAfter, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: validAfter has unexpected type", ErrMalformedPayload)
	}
	rawSponsor, ok := values[2].([SponsorIDLength]byte)
	if !ok {
		return nil, fmt.Errorf("%w: sponsorId has unexpected type", ErrMalformedPayload)
	}
	signature := make([]byte, len(blob)-signatureOffset)
	copy(signature, blob[signatureOffset:])
	return &AuthorizationPayload{
		ValidUntil: validUntil.Uint64(),
		ValidAfter: validAfter.Uint64(),
		Sponsor:    SponsorID(rawSponsor),
		Signature:  signature,
	}, nil
}

// EncodeAuthorization assembles a PaymasterAndData blob. This is the
// signer-side counterpart of DecodeAuthorization, used by the operator CLI
// and by tests.
func EncodeAuthorization(paymaster common.Address, payload *AuthorizationPayload) ([]byte, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformedPayload)
	}
	if payload.ValidUntil > maxUint48 || payload.ValidAfter > maxUint48 {
		return nil, fmt.Errorf("%w: validity timestamps exceed 48 bits", ErrMalformedPayload)
	}
	packed, err := authorizationArgs.Pack(
		new(big.Int).SetUint64(payload.ValidUntil),
		new(big.Int).SetUint64(payload.ValidAfter),
		[SponsorIDLength]byte(payload.Sponsor),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	blob := make([]byte, 0, signatureOffset+len(payload.Signature))
	blob = append(blob, paymaster.Bytes()...)
	blob = append(blob, packed...)
	blob = append(blob, payload.Signature...)
	return blob, nil
}

// EncodeSettlementContext serializes the opaque blob carried between the two
// phases. Pure and deterministic for well-formed inputs.
func EncodeSettlementContext(ctx *SettlementContext) ([]byte, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: nil context", ErrMalformedContext)
	}
	packed, err := settlementArgs.Pack(
		[SponsorIDLength]byte(ctx.Sponsor),
		ctx.Sender,
		cloneBigInt(ctx.Reserved),
		cloneBigInt(ctx.PostOpCost),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContext, err)
	}
	return packed, nil
}

// DecodeSettlementContext parses the opaque blob back into its fields. The
// layout is strict: exactly four fields in fixed order, nothing more.
func DecodeSettlementContext(blob []byte) (*SettlementContext, error) {
	if len(blob) != settlementContextSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrMalformedContext, len(blob), settlementContextSize)
	}
	values, err := settlementArgs.Unpack(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContext, err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("%w: expected 4 fields, got %d", ErrMalformedContext, len(values))
	}
	rawSponsor, ok := values[0].([SponsorIDLength]byte)
	if !ok {
		return nil, fmt.Errorf("%w: sponsorId has unexpected type", ErrMalformedContext)
	}
	sender, ok := values[1].(common.Address)
	if !ok {
		return nil, fmt.Errorf("%w: sender has unexpected type", ErrMalformedContext)
	}
	reserved, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: reserved has unexpected type", ErrMalformedContext)
	}
	postOpCost, ok := values[3].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: postOpCost has unexpected type", ErrMalformedContext)
	}
	return &SettlementContext{
		Sponsor:    SponsorID(rawSponsor),
		Sender:     sender,
		Reserved:   reserved,
		PostOpCost: postOpCost,
	}, nil
}
