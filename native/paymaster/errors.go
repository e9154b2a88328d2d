package paymaster

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrMalformedPayload       = errors.New("paymaster: malformed authorization payload")
	ErrMalformedContext       = errors.New("paymaster: malformed settlement context")
	ErrInvalidSignatureLength = errors.New("paymaster: invalid authorization signature length")
	ErrNotSponsorOwner        = errors.New("paymaster: caller is not the sponsor owner")
	ErrNotPaymasterOwner      = errors.New("paymaster: caller is not the paymaster owner")
	ErrZeroAmount             = errors.New("paymaster: amount must be positive")
	ErrZeroAddress            = errors.New("paymaster: zero address")
	ErrInsufficientBalance    = errors.New("paymaster: insufficient sponsor balance")
	ErrUnknownContext         = errors.New("paymaster: unknown settlement context")
	ErrContextConsumed        = errors.New("paymaster: settlement context already consumed")
	ErrNilState               = errors.New("paymaster: ledger state not configured")
	ErrNilCustody             = errors.New("paymaster: custody ledger not configured")
	ErrSponsorNotFound        = errors.New("paymaster: sponsor not found")
)

// InsufficientBalanceError carries the exact shortfall alongside the sentinel
// so callers can surface both numbers.
type InsufficientBalanceError struct {
	Required  *big.Int
	Available *big.Int
}

// Error implements the error interface.
func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("paymaster: insufficient sponsor balance: required %s, available %s", e.Required, e.Available)
}

// Is matches the ErrInsufficientBalance sentinel.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func newInsufficientBalance(required, available *big.Int) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		Required:  cloneBigInt(required),
		Available: cloneBigInt(available),
	}
}
