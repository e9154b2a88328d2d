package paymaster

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"gaslane/core/types"
)

var (
	bytes32Type = mustABIType("bytes32")

	// userOpArgs binds the economically relevant, immutable fields of the
	// operation. PaymasterAndData and Signature are excluded: the former
	// contains the signature being verified, the latter is the account's own
	// proof and irrelevant to sponsorship.
	userOpArgs = abi.Arguments{
		{Name: "sender", Type: addressType},
		{Name: "nonce", Type: uint256Type},
		{Name: "initCodeHash", Type: bytes32Type},
		{Name: "callDataHash", Type: bytes32Type},
		{Name: "callGasLimit", Type: uint256Type},
		{Name: "verificationGasLimit", Type: uint256Type},
		{Name: "preVerificationGas", Type: uint256Type},
		{Name: "maxFeePerGas", Type: uint256Type},
		{Name: "maxPriorityFeePerGas", Type: uint256Type},
	}
)

func packUserOp(op *types.UserOperation) ([]byte, error) {
	if op == nil {
		return nil, fmt.Errorf("paymaster: nil user operation")
	}
	return userOpArgs.Pack(
		op.Sender,
		op.NonceValue(),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		new(big.Int).SetUint64(op.CallGasLimit),
		new(big.Int).SetUint64(op.VerificationGasLimit),
		new(big.Int).SetUint64(op.PreVerificationGas),
		op.MaxFeePerGasValue(),
		op.MaxPriorityFeePerGasValue(),
	)
}

// SponsorshipHash derives the canonical hash the off-chain authority signs.
// It binds the operation's immutable fields to the executing chain, the
// paymaster instance, the validity window and the sponsor handle; any change
// to a bound field invalidates the signature. Field order is part of the wire
// contract and must match the signer exactly.
func SponsorshipHash(op *types.UserOperation, chainID *big.Int, paymaster common.Address, validUntil, validAfter uint64, sponsor SponsorID) (common.Hash, error) {
	packed, err := packUserOp(op)
	if err != nil {
		return common.Hash{}, err
	}
	if chainID == nil {
		chainID = big.NewInt(0)
	}
	digest := crypto.Keccak256(
		packed,
		common.LeftPadBytes(chainID.Bytes(), 32),
		common.LeftPadBytes(paymaster.Bytes(), 32),
		common.LeftPadBytes(new(big.Int).SetUint64(validUntil).Bytes(), 32),
		common.LeftPadBytes(new(big.Int).SetUint64(validAfter).Bytes(), 32),
		common.LeftPadBytes(sponsor[:], 32),
	)
	return common.BytesToHash(digest), nil
}
