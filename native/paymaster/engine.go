package paymaster

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"gaslane/core/events"
	"gaslane/core/types"
)

// DefaultPostOpGasUnits is the constant gas attributed to the settlement call
// itself. The fixed overhead charged to the sponsor is this figure multiplied
// by the operation's fee cap.
const DefaultPostOpGasUnits = 35_000

// Rejection reasons surfaced on the non-reverting path.
const (
	ReasonSignatureUnrecoverable = "signature_unrecoverable"
	ReasonSignerMismatch         = "signer_mismatch"
)

// ContextJournal persists settlement contexts between the two phases and
// enforces that each one is consumed exactly once, across restarts.
type ContextJournal interface {
	Record(id common.Hash, context []byte) error
	Consume(id common.Hash) ([]byte, error)
}

// ValidationResult is the outcome of the validation phase. A failed signature
// check is a normal business outcome: SigFailed is set, ValidationData
// carries the failure marker, Context is nil and the ledger is untouched.
type ValidationResult struct {
	// Context is the opaque settlement blob to hand back at settlement time.
	Context []byte
	// ValidationData packs the signature marker and validity window.
	ValidationData *uint256.Int
	SigFailed      bool
	// Reason describes why the signature check failed, empty on acceptance.
	Reason string
}

// Engine is the settlement reconciler: it decides sponsorship validity,
// reserves funds at validation and reconciles the actual cost at settlement.
type Engine struct {
	mu        sync.RWMutex
	ledger    *Ledger
	journal   ContextJournal
	emitter   events.Emitter
	chainID   *big.Int
	paymaster common.Address
	owner     common.Address
	authority common.Address

	postOpGasUnits uint64
}

// NewEngine creates a reconciler bound to one paymaster instance on one
// chain. The authority is the off-chain signer whose approval every
// sponsorship must carry.
func NewEngine(ledger *Ledger, chainID *big.Int, paymaster, owner, authority common.Address) *Engine {
	return &Engine{
		ledger:         ledger,
		emitter:        events.NoopEmitter{},
		chainID:        cloneBigInt(chainID),
		paymaster:      paymaster,
		owner:          owner,
		authority:      authority,
		postOpGasUnits: DefaultPostOpGasUnits,
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetJournal configures the settlement-context journal. Without a journal the
// engine still works but consume-exactly-once is only as good as the caller.
func (e *Engine) SetJournal(journal ContextJournal) { e.journal = journal }

// SetPostOpGasUnits overrides the fixed settlement gas attribution. Zero
// restores the default.
func (e *Engine) SetPostOpGasUnits(units uint64) {
	if units == 0 {
		units = DefaultPostOpGasUnits
	}
	e.postOpGasUnits = units
}

// Ledger exposes the sponsor ledger for funding operations.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Authority returns the currently configured off-chain signer.
func (e *Engine) Authority() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.authority
}

// RotateAuthority swaps the off-chain signer. Only the paymaster owner may
// rotate; in-flight validations keep whichever signer they observed.
func (e *Engine) RotateAuthority(caller, next common.Address) error {
	if caller != e.owner {
		return ErrNotPaymasterOwner
	}
	if next == (common.Address{}) {
		return ErrZeroAddress
	}
	e.mu.Lock()
	previous := e.authority
	e.authority = next
	e.mu.Unlock()
	e.emit(events.AuthorityRotated{Previous: previous, Next: next})
	return nil
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

// ValidateSponsorship runs phase one of the two-phase protocol. maxCost is
// the caller-supplied upper bound on what this operation can possibly cost;
// it is reserved in full from the sponsor's balance on acceptance.
//
// Errors abort the request with no state change: malformed payloads,
// out-of-range signature lengths and insufficient sponsor balance are hard
// failures. A signature that simply does not verify is NOT an error — the
// result carries the failure marker and the caller rejects cheaply.
func (e *Engine) ValidateSponsorship(op *types.UserOperation, maxCost *big.Int) (*ValidationResult, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrNilState
	}
	if op == nil {
		return nil, fmt.Errorf("paymaster: user operation required")
	}
	if maxCost == nil || maxCost.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	payload, err := DecodeAuthorization(op.PaymasterAndData)
	if err != nil {
		return nil, err
	}
	if n := payload.SignatureLength(); !ValidSignatureLength(n) {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSignatureLength, n)
	}

	hash, err := SponsorshipHash(op, e.chainID, e.paymaster, payload.ValidUntil, payload.ValidAfter, payload.Sponsor)
	if err != nil {
		return nil, err
	}

	recovered, err := RecoverAuthority(hash, payload.Signature)
	if err != nil {
		return rejection(payload, ReasonSignatureUnrecoverable), nil
	}
	if recovered != e.Authority() {
		return rejection(payload, ReasonSignerMismatch), nil
	}

	postOpCost := new(big.Int).Mul(op.MaxFeePerGasValue(), new(big.Int).SetUint64(e.postOpGasUnits))

	if err := e.ledger.reserve(payload.Sponsor, maxCost); err != nil {
		return nil, fmt.Errorf("paymaster: sponsorship reservation: %w", err)
	}

	ctx := &SettlementContext{
		Sponsor:    payload.Sponsor,
		Sender:     op.Sender,
		Reserved:   cloneBigInt(maxCost),
		PostOpCost: postOpCost,
	}
	encoded, err := EncodeSettlementContext(ctx)
	if err != nil {
		// Reservation must not leak when the context cannot be emitted.
		if creditErr := e.ledger.credit(payload.Sponsor, maxCost); creditErr != nil {
			return nil, errors.Join(err, creditErr)
		}
		return nil, err
	}
	if e.journal != nil {
		if err := e.journal.Record(ContextID(encoded), encoded); err != nil {
			if creditErr := e.ledger.credit(payload.Sponsor, maxCost); creditErr != nil {
				return nil, errors.Join(err, creditErr)
			}
			return nil, fmt.Errorf("paymaster: journal settlement context: %w", err)
		}
	}

	return &ValidationResult{
		Context:        encoded,
		ValidationData: PackValidationData(false, payload.ValidUntil, payload.ValidAfter),
	}, nil
}

func rejection(payload *AuthorizationPayload, reason string) *ValidationResult {
	return &ValidationResult{
		ValidationData: PackValidationData(true, payload.ValidUntil, payload.ValidAfter),
		SigFailed:      true,
		Reason:         reason,
	}
}

// PostOp runs phase two. It must be invoked exactly once per successful
// validation, with the context emitted then and the actual cost the
// execution incurred.
//
// PostOpModePostOpReverted refunds the entire reservation: the settlement's
// own side effects were rolled back, so nothing was chargeable. The other two
// modes charge actualCost plus the fixed overhead and credit back the rest —
// a reverted operation still consumed gas, so the sponsor pays for it the
// same as for a success.
func (e *Engine) PostOp(mode PostOpMode, context []byte, actualCost *big.Int) error {
	if e == nil || e.ledger == nil {
		return ErrNilState
	}
	if !mode.Valid() {
		return fmt.Errorf("paymaster: invalid post-op mode %d", uint8(mode))
	}
	ctx, err := DecodeSettlementContext(context)
	if err != nil {
		return err
	}
	if actualCost == nil || actualCost.Sign() < 0 {
		return fmt.Errorf("paymaster: actual cost required")
	}
	if e.journal != nil {
		if _, err := e.journal.Consume(ContextID(context)); err != nil {
			return err
		}
	}

	if mode == PostOpModePostOpReverted {
		if err := e.ledger.credit(ctx.Sponsor, ctx.Reserved); err != nil {
			return e.restoreContext(context, err)
		}
		e.emit(events.SponsorshipRefunded{
			Sponsor:  ctx.Sponsor,
			Sender:   ctx.Sender,
			Reserved: cloneBigInt(ctx.Reserved),
		})
		return nil
	}

	charge := new(big.Int).Add(actualCost, ctx.PostOpCost)
	if charge.Cmp(ctx.Reserved) > 0 {
		panic(fmt.Sprintf("paymaster: settlement charge %s exceeds reservation %s for sponsor %s", charge, ctx.Reserved, ctx.Sponsor))
	}
	refund := new(big.Int).Sub(ctx.Reserved, charge)
	if err := e.ledger.credit(ctx.Sponsor, refund); err != nil {
		return e.restoreContext(context, err)
	}
	e.emit(events.SponsorshipSettled{
		Sponsor:  ctx.Sponsor,
		Sender:   ctx.Sender,
		Reserved: cloneBigInt(ctx.Reserved),
		Charged:  charge,
		Refund:   cloneBigInt(refund),
		Mode:     mode.String(),
	})
	return nil
}

// restoreContext re-journals a consumed context after a failed credit so the
// settlement can be retried. Without it the sponsor's refund would be
// stranded behind ErrContextConsumed.
func (e *Engine) restoreContext(context []byte, cause error) error {
	if e.journal == nil {
		return cause
	}
	if recErr := e.journal.Record(ContextID(context), context); recErr != nil {
		return errors.Join(cause, fmt.Errorf("paymaster: restore settlement context: %w", recErr))
	}
	return cause
}

// ContextID derives the journal key for a settlement context blob.
func ContextID(context []byte) common.Hash {
	return crypto.Keccak256Hash(context)
}
