package paymaster

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"gaslane/core/events"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
)

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) typesSeen() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

func newTestLedger() (*Ledger, *memState, *memCustody, *captureEmitter) {
	state := newMemState()
	custody := newMemCustody()
	ledger := NewLedger(state, custody)
	emitter := &captureEmitter{}
	ledger.SetEmitter(emitter)
	return ledger, state, custody, emitter
}

func TestDepositAssignsOwnerOnFirstDeposit(t *testing.T) {
	ledger, _, custody, emitter := newTestLedger()
	sponsor := testSponsor(1)

	if err := ledger.Deposit(sponsor, alice, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	acct, err := ledger.Account(sponsor)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.Owner != alice {
		t.Fatalf("owner = %s, want %s", acct.Owner.Hex(), alice.Hex())
	}
	if acct.Balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("balance = %s, want 500", acct.Balance)
	}
	if custody.balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("custody balance = %s, want 500", custody.balance)
	}
	seen := emitter.typesSeen()
	if len(seen) != 2 || seen[0] != events.TypeSponsorCreated || seen[1] != events.TypeSponsorDeposited {
		t.Fatalf("events = %v", seen)
	}
}

func TestDepositRejectsNonOwner(t *testing.T) {
	ledger, _, _, _ := newTestLedger()
	sponsor := testSponsor(1)

	if err := ledger.Deposit(sponsor, alice, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ledger.Deposit(sponsor, bob, big.NewInt(100)); !errors.Is(err, ErrNotSponsorOwner) {
		t.Fatalf("expected ErrNotSponsorOwner, got %v", err)
	}
	balance, err := ledger.Balance(sponsor)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("rejected deposit must not change balance, got %s", balance)
	}
}

func TestDepositValidation(t *testing.T) {
	ledger, _, _, _ := newTestLedger()
	sponsor := testSponsor(1)

	if err := ledger.Deposit(sponsor, common.Address{}, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero caller: got %v", err)
	}
	if err := ledger.Deposit(sponsor, alice, nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("nil amount: got %v", err)
	}
	if err := ledger.Deposit(sponsor, alice, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	if err := ledger.Deposit(sponsor, alice, big.NewInt(-5)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("negative amount: got %v", err)
	}
}

func TestWithdrawOwnerOnly(t *testing.T) {
	ledger, _, custody, _ := newTestLedger()
	sponsor := testSponsor(2)

	if err := ledger.Deposit(sponsor, alice, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ledger.Withdraw(sponsor, bob, big.NewInt(100)); !errors.Is(err, ErrNotSponsorOwner) {
		t.Fatalf("expected ErrNotSponsorOwner, got %v", err)
	}
	if err := ledger.Withdraw(sponsor, alice, big.NewInt(400)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	balance, _ := ledger.Balance(sponsor)
	if balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("balance = %s, want 600", balance)
	}
	if custody.withdraws != 1 || custody.balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("custody not debited: withdraws %d balance %s", custody.withdraws, custody.balance)
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	ledger, _, _, _ := newTestLedger()
	sponsor := testSponsor(2)

	if err := ledger.Deposit(sponsor, alice, big.NewInt(50)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	err := ledger.Withdraw(sponsor, alice, big.NewInt(51))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	var detail *InsufficientBalanceError
	if !errors.As(err, &detail) {
		t.Fatalf("expected typed shortfall detail")
	}
	if detail.Required.Cmp(big.NewInt(51)) != 0 || detail.Available.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("detail = required %s available %s", detail.Required, detail.Available)
	}
}

func TestWithdrawUnknownSponsor(t *testing.T) {
	ledger, _, _, _ := newTestLedger()
	if err := ledger.Withdraw(testSponsor(9), alice, big.NewInt(1)); !errors.Is(err, ErrSponsorNotFound) {
		t.Fatalf("expected ErrSponsorNotFound, got %v", err)
	}
}

func TestBalanceUnknownSponsorIsZero(t *testing.T) {
	ledger, _, _, _ := newTestLedger()
	balance, err := ledger.Balance(testSponsor(9))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("balance = %s, want 0", balance)
	}
	acct, err := ledger.Account(testSponsor(9))
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct != nil {
		t.Fatalf("unknown sponsor should have no account")
	}
}

func TestReserveAndCredit(t *testing.T) {
	ledger, _, _, _ := newTestLedger()
	sponsor := testSponsor(3)

	if err := ledger.Deposit(sponsor, alice, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ledger.reserve(sponsor, big.NewInt(700)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	balance, _ := ledger.Balance(sponsor)
	if balance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("balance after reserve = %s, want 300", balance)
	}

	if err := ledger.reserve(sponsor, big.NewInt(301)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("over-reserve: got %v", err)
	}
	balance, _ = ledger.Balance(sponsor)
	if balance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("failed reserve must not mutate, got %s", balance)
	}

	if err := ledger.credit(sponsor, big.NewInt(510)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, _ = ledger.Balance(sponsor)
	if balance.Cmp(big.NewInt(810)) != 0 {
		t.Fatalf("balance after credit = %s, want 810", balance)
	}
}

func TestReserveUnknownSponsor(t *testing.T) {
	ledger, _, _, _ := newTestLedger()
	err := ledger.reserve(testSponsor(4), big.NewInt(1))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestDepositReversesCustodyOnPutFailure(t *testing.T) {
	ledger, state, custody, emitter := newTestLedger()
	state.failPut = errors.New("disk full")

	if err := ledger.Deposit(testSponsor(1), alice, big.NewInt(100)); err == nil {
		t.Fatalf("put failure must surface")
	}
	if custody.balance.Sign() != 0 {
		t.Fatalf("custody must be compensated, holds %s", custody.balance)
	}
	if custody.deposits != 1 || custody.withdraws != 1 {
		t.Fatalf("want one deposit and one compensating withdrawal, got %d/%d", custody.deposits, custody.withdraws)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("no events on a failed deposit, got %v", emitter.typesSeen())
	}
}

func TestWithdrawReversesCustodyOnPutFailure(t *testing.T) {
	ledger, state, custody, _ := newTestLedger()
	sponsor := testSponsor(1)
	if err := ledger.Deposit(sponsor, alice, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	state.failPut = errors.New("disk full")

	if err := ledger.Withdraw(sponsor, alice, big.NewInt(200)); err == nil {
		t.Fatalf("put failure must surface")
	}
	if custody.balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("custody must return to 500, holds %s", custody.balance)
	}

	state.failPut = nil
	balance, err := ledger.Balance(sponsor)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("sponsor balance must stay 500, got %s", balance)
	}
}

func TestLedgerRequiresCollaborators(t *testing.T) {
	if err := NewLedger(nil, newMemCustody()).Deposit(testSponsor(1), alice, big.NewInt(1)); !errors.Is(err, ErrNilState) {
		t.Fatalf("nil state: got %v", err)
	}
	if err := NewLedger(newMemState(), nil).Deposit(testSponsor(1), alice, big.NewInt(1)); !errors.Is(err, ErrNilCustody) {
		t.Fatalf("nil custody: got %v", err)
	}
}
