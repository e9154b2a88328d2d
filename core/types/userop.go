package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UserOperation is the account-abstraction request shape consumed by the
// sponsorship engine. The engine only reads the economically relevant fields;
// execution of CallData is the surrounding pipeline's business.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         uint64         `json:"callGasLimit"`
	VerificationGasLimit uint64         `json:"verificationGasLimit"`
	PreVerificationGas   uint64         `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	// PaymasterAndData carries the paymaster address (first 20 bytes) followed
	// by the signed authorization blob. It is never part of the sponsorship
	// hash: the blob contains the signature being verified.
	PaymasterAndData []byte `json:"paymasterAndData"`
	Signature        []byte `json:"signature"`
}

// PaymasterAddress extracts the paymaster address prefix from
// PaymasterAndData. Returns the zero address when no paymaster is attached.
func (op *UserOperation) PaymasterAddress() common.Address {
	if op == nil || len(op.PaymasterAndData) < 20 {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:20])
}

// PaymasterData returns the authorization blob that follows the paymaster
// address prefix.
func (op *UserOperation) PaymasterData() []byte {
	if op == nil || len(op.PaymasterAndData) <= 20 {
		return nil
	}
	return op.PaymasterAndData[20:]
}

// HasPaymaster reports whether the operation requests gas sponsorship.
func (op *UserOperation) HasPaymaster() bool {
	return op != nil && len(op.PaymasterAndData) >= 20 && op.PaymasterAddress() != (common.Address{})
}

// Nonce value helpers keep arithmetic away from nil pointers.

// NonceValue returns a defensive copy of the nonce, zero when unset.
func (op *UserOperation) NonceValue() *big.Int {
	if op == nil || op.Nonce == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(op.Nonce)
}

// MaxFeePerGasValue returns a defensive copy of the fee cap, zero when unset.
func (op *UserOperation) MaxFeePerGasValue() *big.Int {
	if op == nil || op.MaxFeePerGas == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(op.MaxFeePerGas)
}

// MaxPriorityFeePerGasValue returns a defensive copy of the tip cap, zero when
// unset.
func (op *UserOperation) MaxPriorityFeePerGasValue() *big.Int {
	if op == nil || op.MaxPriorityFeePerGas == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(op.MaxPriorityFeePerGas)
}
