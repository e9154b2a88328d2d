package paymaster

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"gaslane/core/types"
)

type memState struct {
	accounts map[SponsorID]*SponsorAccount
	failPut  error
}

func newMemState() *memState {
	return &memState{accounts: make(map[SponsorID]*SponsorAccount)}
}

func (m *memState) SponsorGet(id SponsorID) (*SponsorAccount, error) {
	acct, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return acct.Clone(), nil
}

func (m *memState) SponsorPut(id SponsorID, acct *SponsorAccount) error {
	if m.failPut != nil {
		return m.failPut
	}
	m.accounts[id] = acct.Clone()
	return nil
}

type memCustody struct {
	balance   *big.Int
	deposits  int
	withdraws int
}

func newMemCustody() *memCustody {
	return &memCustody{balance: big.NewInt(0)}
}

func (m *memCustody) Deposit(amount *big.Int) error {
	m.balance = new(big.Int).Add(m.balance, amount)
	m.deposits++
	return nil
}

func (m *memCustody) WithdrawTo(_ common.Address, amount *big.Int) error {
	m.balance = new(big.Int).Sub(m.balance, amount)
	m.withdraws++
	return nil
}

func (m *memCustody) CustodialBalance() (*big.Int, error) {
	return new(big.Int).Set(m.balance), nil
}

type memJournal struct {
	pending map[common.Hash][]byte
	settled map[common.Hash]bool
	failRec error
}

func newMemJournal() *memJournal {
	return &memJournal{
		pending: make(map[common.Hash][]byte),
		settled: make(map[common.Hash]bool),
	}
}

func (m *memJournal) Record(id common.Hash, context []byte) error {
	if m.failRec != nil {
		return m.failRec
	}
	delete(m.settled, id)
	m.pending[id] = append([]byte(nil), context...)
	return nil
}

func (m *memJournal) Consume(id common.Hash) ([]byte, error) {
	ctx, ok := m.pending[id]
	if !ok {
		if m.settled[id] {
			return nil, ErrContextConsumed
		}
		return nil, ErrUnknownContext
	}
	delete(m.pending, id)
	m.settled[id] = true
	return ctx, nil
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func keyAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func signHash(t *testing.T, key *ecdsa.PrivateKey, hash common.Hash) []byte {
	t.Helper()
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

// toCompact folds a 65-byte r ‖ s ‖ v signature into the 64-byte EIP-2098
// form, hiding the parity bit in the top bit of s.
func toCompact(t *testing.T, sig []byte) []byte {
	t.Helper()
	if len(sig) != SignatureLengthFull {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	out := make([]byte, SignatureLengthCompact)
	copy(out, sig[:64])
	out[32] |= v << 7
	return out
}

func testSponsor(b byte) SponsorID {
	var id SponsorID
	for i := range id {
		id[i] = b
	}
	return id
}

func testUserOp() *types.UserOperation {
	return &types.UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(7),
		InitCode:             nil,
		CallData:             []byte{0xde, 0xad, 0xbe, 0xef},
		CallGasLimit:         200_000,
		VerificationGasLimit: 150_000,
		PreVerificationGas:   21_000,
		MaxFeePerGas:         big.NewInt(2),
		MaxPriorityFeePerGas: big.NewInt(1),
	}
}

// sponsoredOp builds a user operation whose PaymasterAndData carries a valid
// authorization signed by key.
func sponsoredOp(t *testing.T, key *ecdsa.PrivateKey, engine *Engine, sponsor SponsorID, validUntil, validAfter uint64) *types.UserOperation {
	t.Helper()
	op := testUserOp()
	hash, err := SponsorshipHash(op, engine.chainID, engine.paymaster, validUntil, validAfter, sponsor)
	if err != nil {
		t.Fatalf("sponsorship hash: %v", err)
	}
	blob, err := EncodeAuthorization(engine.paymaster, &AuthorizationPayload{
		ValidUntil: validUntil,
		ValidAfter: validAfter,
		Sponsor:    sponsor,
		Signature:  signHash(t, key, hash),
	})
	if err != nil {
		t.Fatalf("encode authorization: %v", err)
	}
	op.PaymasterAndData = blob
	return op
}
