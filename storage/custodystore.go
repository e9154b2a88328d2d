package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"gaslane/native/paymaster"
)

const custodyKey = "paymaster/custody"

// CustodyStore tracks the paymaster's aggregate holdings with the external
// settlement ledger. The actual value transfer happens out of band; this
// record is the paymaster's own view of what it has parked there, used for
// reconciliation. It implements paymaster.CustodyLedger.
type CustodyStore struct {
	mu sync.Mutex
	db Database
}

// NewCustodyStore wraps the database with the custody schema.
func NewCustodyStore(db Database) *CustodyStore {
	return &CustodyStore{db: db}
}

type custodyRecord struct {
	Balance string `json:"balance"`
}

func (c *CustodyStore) load() (*big.Int, error) {
	raw, err := c.db.Get([]byte(custodyKey))
	if errors.Is(err, ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	var rec custodyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("storage: decode custody record: %w", err)
	}
	balance, ok := new(big.Int).SetString(rec.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("storage: custody record has invalid balance %q", rec.Balance)
	}
	return balance, nil
}

func (c *CustodyStore) store(balance *big.Int) error {
	raw, err := json.Marshal(custodyRecord{Balance: balance.String()})
	if err != nil {
		return err
	}
	return c.db.Put([]byte(custodyKey), raw)
}

// Deposit records amount as moved under the paymaster's custody.
func (c *CustodyStore) Deposit(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return paymaster.ErrZeroAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	balance, err := c.load()
	if err != nil {
		return err
	}
	return c.store(balance.Add(balance, amount))
}

// WithdrawTo records amount as released from custody to the given address.
func (c *CustodyStore) WithdrawTo(to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return paymaster.ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return paymaster.ErrZeroAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	balance, err := c.load()
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("storage: custody balance %s below withdrawal %s", balance, amount)
	}
	return c.store(balance.Sub(balance, amount))
}

// CustodialBalance reports the paymaster's recorded custodial holdings.
func (c *CustodyStore) CustodialBalance() (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load()
}
