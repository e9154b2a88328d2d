package events

import (
	"encoding/hex"
	"math/big"

	"gaslane/core/types"
)

const (
	// TypeSponsorCreated indicates a sponsor account was created by its first
	// deposit.
	TypeSponsorCreated = "paymaster.sponsor.created"
	// TypeSponsorDeposited indicates the sponsor owner topped up the prepaid
	// balance.
	TypeSponsorDeposited = "paymaster.sponsor.deposited"
	// TypeSponsorWithdrawn indicates the sponsor owner withdrew part of the
	// prepaid balance.
	TypeSponsorWithdrawn = "paymaster.sponsor.withdrawn"
	// TypeSponsorshipSettled indicates a sponsored operation settled and the
	// sponsor was charged the actual cost.
	TypeSponsorshipSettled = "paymaster.sponsorship.settled"
	// TypeSponsorshipRefunded indicates a settlement attempt itself reverted
	// and the full reservation was returned to the sponsor.
	TypeSponsorshipRefunded = "paymaster.sponsorship.refunded"
	// TypeAuthorityRotated indicates the off-chain signing authority changed.
	TypeAuthorityRotated = "paymaster.authority.rotated"
)

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func hexSponsor(id [12]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// SponsorCreated captures the first deposit assigning a sponsor owner.
type SponsorCreated struct {
	Sponsor [12]byte
	Owner   [20]byte
}

// EventType satisfies the events.Event interface.
func (SponsorCreated) EventType() string { return TypeSponsorCreated }

// Event renders the creation payload.
func (e SponsorCreated) Event() *types.Event {
	return &types.Event{Type: TypeSponsorCreated, Attributes: map[string]string{
		"sponsorId": hexSponsor(e.Sponsor),
		"owner":     hexAddr(e.Owner),
	}}
}

// SponsorDeposited captures a successful balance top-up.
type SponsorDeposited struct {
	Sponsor    [12]byte
	Owner      [20]byte
	Amount     *big.Int
	NewBalance *big.Int
}

// EventType satisfies the events.Event interface.
func (SponsorDeposited) EventType() string { return TypeSponsorDeposited }

// Event renders the deposit payload.
func (e SponsorDeposited) Event() *types.Event {
	return &types.Event{Type: TypeSponsorDeposited, Attributes: map[string]string{
		"sponsorId":  hexSponsor(e.Sponsor),
		"owner":      hexAddr(e.Owner),
		"amountWei":  amountString(e.Amount),
		"balanceWei": amountString(e.NewBalance),
	}}
}

// SponsorWithdrawn captures a successful balance withdrawal.
type SponsorWithdrawn struct {
	Sponsor    [12]byte
	Owner      [20]byte
	Amount     *big.Int
	NewBalance *big.Int
}

// EventType satisfies the events.Event interface.
func (SponsorWithdrawn) EventType() string { return TypeSponsorWithdrawn }

// Event renders the withdrawal payload.
func (e SponsorWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeSponsorWithdrawn, Attributes: map[string]string{
		"sponsorId":  hexSponsor(e.Sponsor),
		"owner":      hexAddr(e.Owner),
		"amountWei":  amountString(e.Amount),
		"balanceWei": amountString(e.NewBalance),
	}}
}

// SponsorshipSettled captures a successful two-phase settlement. Charged is
// the amount ultimately kept from the reservation, Refund the unused portion
// credited back.
type SponsorshipSettled struct {
	Sponsor  [12]byte
	Sender   [20]byte
	Reserved *big.Int
	Charged  *big.Int
	Refund   *big.Int
	Mode     string
}

// EventType satisfies the events.Event interface.
func (SponsorshipSettled) EventType() string { return TypeSponsorshipSettled }

// Event renders the settlement payload.
func (e SponsorshipSettled) Event() *types.Event {
	return &types.Event{Type: TypeSponsorshipSettled, Attributes: map[string]string{
		"sponsorId":   hexSponsor(e.Sponsor),
		"sender":      hexAddr(e.Sender),
		"reservedWei": amountString(e.Reserved),
		"chargedWei":  amountString(e.Charged),
		"refundWei":   amountString(e.Refund),
		"mode":        e.Mode,
	}}
}

// SponsorshipRefunded captures a settlement attempt whose own side effects
// were rolled back, reversing the validation-time debit in full.
type SponsorshipRefunded struct {
	Sponsor  [12]byte
	Sender   [20]byte
	Reserved *big.Int
}

// EventType satisfies the events.Event interface.
func (SponsorshipRefunded) EventType() string { return TypeSponsorshipRefunded }

// Event renders the refund payload.
func (e SponsorshipRefunded) Event() *types.Event {
	return &types.Event{Type: TypeSponsorshipRefunded, Attributes: map[string]string{
		"sponsorId":   hexSponsor(e.Sponsor),
		"sender":      hexAddr(e.Sender),
		"reservedWei": amountString(e.Reserved),
	}}
}

// AuthorityRotated captures a change of the configured off-chain signer.
type AuthorityRotated struct {
	Previous [20]byte
	Next     [20]byte
}

// EventType satisfies the events.Event interface.
func (AuthorityRotated) EventType() string { return TypeAuthorityRotated }

// Event renders the rotation payload.
func (e AuthorityRotated) Event() *types.Event {
	return &types.Event{Type: TypeAuthorityRotated, Attributes: map[string]string{
		"previousSigner": hexAddr(e.Previous),
		"nextSigner":     hexAddr(e.Next),
	}}
}
