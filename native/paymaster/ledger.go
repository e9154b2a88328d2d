package paymaster

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"gaslane/core/events"
)

// LedgerState is the minimal persistence surface the sponsor ledger needs.
// SponsorGet returns (nil, nil) when the sponsor does not exist yet.
type LedgerState interface {
	SponsorGet(id SponsorID) (*SponsorAccount, error)
	SponsorPut(id SponsorID, acct *SponsorAccount) error
}

// CustodyLedger is the global settlement ledger collaborator. The engine
// never inspects its internal accounting; it is an opaque value-custody
// service holding funds under the paymaster's name.
type CustodyLedger interface {
	// Deposit moves amount under the paymaster's custody.
	Deposit(amount *big.Int) error
	// WithdrawTo releases amount from custody to the given address.
	WithdrawTo(to common.Address, amount *big.Int) error
	// CustodialBalance reports the paymaster's total custodial holdings.
	CustodialBalance() (*big.Int, error)
}

// Ledger keeps per-sponsor prepaid balances. All entry points share one
// mutual-exclusion guard scoped to the whole ledger, so a deposit or withdraw
// in flight excludes any other ledger mutation, mirroring a contract-wide
// reentrancy guard. Per-sponsor balance updates are therefore linearizable
// even when different requests' validate/settle sequences interleave.
type Ledger struct {
	mu      sync.Mutex
	state   LedgerState
	custody CustodyLedger
	emitter events.Emitter
}

// NewLedger wires the ledger against its persistence and custody
// collaborators.
func NewLedger(state LedgerState, custody CustodyLedger) *Ledger {
	return &Ledger{
		state:   state,
		custody: custody,
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op
// implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt events.Event) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(evt)
}

func (l *Ledger) checkWired() error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if l.custody == nil {
		return ErrNilCustody
	}
	return nil
}

// Deposit credits the sponsor's prepaid balance and forwards the funds to the
// settlement ledger under the paymaster's custody. The first deposit for a
// sponsor assigns the caller as owner (first-writer-wins); afterwards only
// the owner may top up.
func (l *Ledger) Deposit(id SponsorID, caller common.Address, amount *big.Int) error {
	if err := l.checkWired(); err != nil {
		return err
	}
	if caller == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.state.SponsorGet(id)
	if err != nil {
		return err
	}
	created := false
	if acct == nil {
		acct = &SponsorAccount{Owner: caller, Balance: big.NewInt(0)}
		created = true
	} else if acct.Owner != caller {
		return ErrNotSponsorOwner
	}
	if err := l.custody.Deposit(amount); err != nil {
		return fmt.Errorf("paymaster: custody deposit: %w", err)
	}
	acct.Balance = new(big.Int).Add(cloneBigInt(acct.Balance), amount)
	if err := l.state.SponsorPut(id, acct); err != nil {
		// Return the funds so the custody total stays in step with the sum of
		// sponsor balances.
		if compErr := l.custody.WithdrawTo(caller, amount); compErr != nil {
			return errors.Join(err, fmt.Errorf("paymaster: custody compensation: %w", compErr))
		}
		return err
	}
	if created {
		l.emit(events.SponsorCreated{Sponsor: id, Owner: caller})
	}
	l.emit(events.SponsorDeposited{
		Sponsor:    id,
		Owner:      caller,
		Amount:     cloneBigInt(amount),
		NewBalance: cloneBigInt(acct.Balance),
	})
	return nil
}

// Withdraw releases part of the sponsor's prepaid balance back to the owner.
func (l *Ledger) Withdraw(id SponsorID, caller common.Address, amount *big.Int) error {
	if err := l.checkWired(); err != nil {
		return err
	}
	if caller == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.state.SponsorGet(id)
	if err != nil {
		return err
	}
	if acct == nil {
		return ErrSponsorNotFound
	}
	if acct.Owner != caller {
		return ErrNotSponsorOwner
	}
	balance := cloneBigInt(acct.Balance)
	if balance.Cmp(amount) < 0 {
		return newInsufficientBalance(amount, balance)
	}
	if err := l.custody.WithdrawTo(caller, amount); err != nil {
		return fmt.Errorf("paymaster: custody withdraw: %w", err)
	}
	acct.Balance = balance.Sub(balance, amount)
	if err := l.state.SponsorPut(id, acct); err != nil {
		// The balance was not debited, so the payout must come back or the
		// owner could withdraw the same funds twice.
		if compErr := l.custody.Deposit(amount); compErr != nil {
			return errors.Join(err, fmt.Errorf("paymaster: custody compensation: %w", compErr))
		}
		return err
	}
	l.emit(events.SponsorWithdrawn{
		Sponsor:    id,
		Owner:      caller,
		Amount:     cloneBigInt(amount),
		NewBalance: cloneBigInt(acct.Balance),
	})
	return nil
}

// Account returns a snapshot of the sponsor account, or nil when the sponsor
// does not exist.
func (l *Ledger) Account(id SponsorID) (*SponsorAccount, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.state.SponsorGet(id)
	if err != nil {
		return nil, err
	}
	return acct.Clone(), nil
}

// Balance returns the sponsor's current prepaid balance; zero when the
// sponsor does not exist.
func (l *Ledger) Balance(id SponsorID) (*big.Int, error) {
	acct, err := l.Account(id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return big.NewInt(0), nil
	}
	return cloneBigInt(acct.Balance), nil
}

// reserve atomically checks sufficiency and debits the reservation from the
// sponsor's balance. Ownership is not checked: the reconciler has already
// authorized the request. A shortfall returns *InsufficientBalanceError so
// the caller can reject before any mutation.
func (l *Ledger) reserve(id SponsorID, amount *big.Int) error {
	if err := l.checkWired(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.state.SponsorGet(id)
	if err != nil {
		return err
	}
	if acct == nil {
		return newInsufficientBalance(amount, big.NewInt(0))
	}
	balance := cloneBigInt(acct.Balance)
	if balance.Cmp(amount) < 0 {
		return newInsufficientBalance(amount, balance)
	}
	return l.debitLocked(id, acct, amount)
}

// debitLocked removes amount from an already-loaded account. The caller holds
// the ledger lock and has verified sufficiency; an underflow here means the
// reservation bound upstream was computed wrong, which is an unrecoverable
// defect, never a wrap.
func (l *Ledger) debitLocked(id SponsorID, acct *SponsorAccount, amount *big.Int) error {
	balance := cloneBigInt(acct.Balance)
	if balance.Cmp(amount) < 0 {
		panic(fmt.Sprintf("paymaster: ledger debit underflow: sponsor %s balance %s, debit %s", id, balance, amount))
	}
	acct.Balance = balance.Sub(balance, amount)
	return l.state.SponsorPut(id, acct)
}

// credit returns amount to the sponsor's balance.
func (l *Ledger) credit(id SponsorID, amount *big.Int) error {
	if err := l.checkWired(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.state.SponsorGet(id)
	if err != nil {
		return err
	}
	if acct == nil {
		return ErrSponsorNotFound
	}
	acct.Balance = new(big.Int).Add(cloneBigInt(acct.Balance), amount)
	return l.state.SponsorPut(id, acct)
}
