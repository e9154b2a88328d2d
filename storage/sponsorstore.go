package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gaslane/native/paymaster"
)

const sponsorKeyPrefix = "paymaster/sponsor/"

// SponsorStore persists sponsor accounts in a key-value database. It
// implements paymaster.LedgerState.
type SponsorStore struct {
	db Database
}

// NewSponsorStore wraps the database with the sponsor account schema.
func NewSponsorStore(db Database) *SponsorStore {
	return &SponsorStore{db: db}
}

type sponsorRecord struct {
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

func sponsorKey(id paymaster.SponsorID) []byte {
	return []byte(sponsorKeyPrefix + id.String())
}

// SponsorGet loads a sponsor account; (nil, nil) when absent.
func (s *SponsorStore) SponsorGet(id paymaster.SponsorID) (*paymaster.SponsorAccount, error) {
	raw, err := s.db.Get(sponsorKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec sponsorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("storage: decode sponsor %s: %w", id, err)
	}
	balance, ok := new(big.Int).SetString(rec.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("storage: sponsor %s has invalid balance %q", id, rec.Balance)
	}
	return &paymaster.SponsorAccount{
		Owner:   common.HexToAddress(rec.Owner),
		Balance: balance,
	}, nil
}

// SponsorPut stores a sponsor account.
func (s *SponsorStore) SponsorPut(id paymaster.SponsorID, acct *paymaster.SponsorAccount) error {
	if acct == nil {
		return fmt.Errorf("storage: nil sponsor account for %s", id)
	}
	balance := acct.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	raw, err := json.Marshal(sponsorRecord{
		Owner:   acct.Owner.Hex(),
		Balance: balance.String(),
	})
	if err != nil {
		return err
	}
	return s.db.Put(sponsorKey(id), raw)
}
