package paymaster

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SponsorIDLength is the fixed width of a sponsor handle.
const SponsorIDLength = 12

// SponsorID is the fixed-width opaque handle identifying a prepaid sponsor
// fund. It is minted off-chain by whoever provisions sponsors and is only ever
// used as a map key here.
type SponsorID [SponsorIDLength]byte

// SponsorIDFromBytes copies b into a SponsorID, rejecting any other width.
func SponsorIDFromBytes(b []byte) (SponsorID, error) {
	var id SponsorID
	if len(b) != SponsorIDLength {
		return id, fmt.Errorf("%w: sponsor id must be %d bytes, got %d", ErrMalformedPayload, SponsorIDLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// SponsorIDFromHex parses a 0x-prefixed or bare hex sponsor handle.
func SponsorIDFromHex(s string) (SponsorID, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return SponsorID{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return SponsorIDFromBytes(raw)
}

// String renders the handle as 0x-prefixed hex.
func (id SponsorID) String() string { return "0x" + hex.EncodeToString(id[:]) }

// IsZero reports whether the handle is all zero bytes.
func (id SponsorID) IsZero() bool { return id == (SponsorID{}) }

// AuthorizationPayload is the decoded form of the authorization blob carried
// in PaymasterAndData after the paymaster address prefix.
type AuthorizationPayload struct {
	ValidUntil uint64 // 48-bit seconds since epoch, end of validity window
	ValidAfter uint64 // 48-bit seconds since epoch, start of validity window
	Sponsor    SponsorID
	Signature  []byte
}

// SignatureLength returns the byte length of the attached signature.
func (p *AuthorizationPayload) SignatureLength() int {
	if p == nil {
		return 0
	}
	return len(p.Signature)
}

// SettlementContext is the opaque state handed from the validation phase to
// the settlement phase of one request. It is produced exactly once per
// successful validation and consumed exactly once at settlement.
type SettlementContext struct {
	Sponsor    SponsorID
	Sender     common.Address
	Reserved   *big.Int // full amount debited at validation
	PostOpCost *big.Int // fixed overhead charged for the settlement call itself
}

// Clone returns a deep copy so callers can mutate freely.
func (c *SettlementContext) Clone() *SettlementContext {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Reserved = cloneBigInt(c.Reserved)
	clone.PostOpCost = cloneBigInt(c.PostOpCost)
	return &clone
}

// SponsorAccount is the persistent per-sponsor record. The owner is assigned
// by the first deposit and immutable afterwards; the balance never goes
// negative.
type SponsorAccount struct {
	Owner   common.Address `json:"owner"`
	Balance *big.Int       `json:"balance"`
}

// Clone returns a deep copy of the account.
func (a *SponsorAccount) Clone() *SponsorAccount {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Balance = cloneBigInt(a.Balance)
	return &clone
}

// PostOpMode tags the execution outcome reported to the settlement phase.
type PostOpMode uint8

const (
	// PostOpModeOpSucceeded: the sponsored operation executed successfully.
	PostOpModeOpSucceeded PostOpMode = iota
	// PostOpModeOpReverted: the sponsored operation reverted but settlement
	// still runs; gas was consumed so the sponsor is charged all the same.
	PostOpModeOpReverted
	// PostOpModePostOpReverted: a prior settlement attempt for this context
	// itself reverted and was rolled back; nothing is chargeable.
	PostOpModePostOpReverted
)

// Valid reports whether the mode is within the supported range.
func (m PostOpMode) Valid() bool {
	switch m {
	case PostOpModeOpSucceeded, PostOpModeOpReverted, PostOpModePostOpReverted:
		return true
	default:
		return false
	}
}

// String renders the mode for events and logs.
func (m PostOpMode) String() string {
	switch m {
	case PostOpModeOpSucceeded:
		return "succeeded"
	case PostOpModeOpReverted:
		return "op_reverted"
	case PostOpModePostOpReverted:
		return "postop_reverted"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParsePostOpMode maps the wire names back onto modes.
func ParsePostOpMode(s string) (PostOpMode, error) {
	switch s {
	case "succeeded":
		return PostOpModeOpSucceeded, nil
	case "op_reverted":
		return PostOpModeOpReverted, nil
	case "postop_reverted":
		return PostOpModePostOpReverted, nil
	default:
		return 0, fmt.Errorf("paymaster: unknown post-op mode %q", s)
	}
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
