package storage

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"

	"gaslane/native/paymaster"
)

var (
	bucketPending = []byte("pending")
	bucketSettled = []byte("settled")
)

// SettlementJournal persists settlement contexts between the validation and
// settlement phases, surviving restarts. Each context is recorded once at
// validation and consumed exactly once at settlement; a second consume
// reports paymaster.ErrContextConsumed. It implements
// paymaster.ContextJournal.
type SettlementJournal struct {
	db *bolt.DB
}

// NewSettlementJournal opens (and migrates) the BoltDB-backed journal.
func NewSettlementJournal(path string) (*SettlementJournal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPending, bucketSettled} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SettlementJournal{db: db}, nil
}

// Close releases the underlying database handle.
func (j *SettlementJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

type journalEntry struct {
	Context    []byte    `json:"context"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Record stores a settlement context under its id. Re-recording an id clears
// any settled marker, so a context whose settlement failed mid-way can be
// put back and consumed again.
func (j *SettlementJournal) Record(id common.Hash, context []byte) error {
	entry, err := json.Marshal(journalEntry{Context: context, RecordedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSettled).Delete(id.Bytes()); err != nil {
			return err
		}
		return tx.Bucket(bucketPending).Put(id.Bytes(), entry)
	})
}

// Consume removes and returns a pending context. Unknown ids report
// paymaster.ErrUnknownContext; ids already settled report
// paymaster.ErrContextConsumed.
func (j *SettlementJournal) Consume(id common.Hash) ([]byte, error) {
	var context []byte
	err := j.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		raw := pending.Get(id.Bytes())
		if raw == nil {
			if tx.Bucket(bucketSettled).Get(id.Bytes()) != nil {
				return paymaster.ErrContextConsumed
			}
			return paymaster.ErrUnknownContext
		}
		var entry journalEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		context = entry.Context
		if err := pending.Delete(id.Bytes()); err != nil {
			return err
		}
		settledAt, err := json.Marshal(time.Now().UTC())
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSettled).Put(id.Bytes(), settledAt)
	})
	if err != nil {
		return nil, err
	}
	return context, nil
}

// Pending reports how many contexts await settlement, for diagnostics.
func (j *SettlementJournal) Pending() (int, error) {
	count := 0
	err := j.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return count, err
}
