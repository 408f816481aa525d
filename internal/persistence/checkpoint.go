package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v3"

	"trendline-core/internal/state"
)

const checkpointPrefix = "checkpoint/"

// CheckpointStore keeps the runtime state of each bot that the relational
// record does not carry: slots, filled exit lines, multi-buy flags, the soft
// stop timer and the crossing detector.
type CheckpointStore struct {
	db *badger.DB
}

// NewCheckpointStore opens a badger database under dir.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	return openCheckpoints(opts)
}

// NewMemoryCheckpointStore opens a store that lives only in memory.
func NewMemoryCheckpointStore() (*CheckpointStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openCheckpoints(opts)
}

func openCheckpoints(opts badger.Options) (*CheckpointStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return &CheckpointStore{db: db}, nil
}

func checkpointKey(botID string) []byte {
	return []byte(checkpointPrefix + botID)
}

// Save replaces the checkpoint of cp.BotID.
func (s *CheckpointStore) Save(cp state.Checkpoint) error {
	if cp.BotID == "" {
		return errors.New("checkpoint without bot id")
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.BotID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(cp.BotID), data)
	})
}

// Load returns the checkpoint of botID, or nil when none was saved.
func (s *CheckpointStore) Load(botID string) (*state.Checkpoint, error) {
	var cp state.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(botID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("empty checkpoint value")
			}
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", botID, err)
	}
	return &cp, nil
}

// Delete removes the checkpoint of botID. Missing keys are not an error.
func (s *CheckpointStore) Delete(botID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(checkpointKey(botID))
	})
}

// IDs lists the bots that have a checkpoint.
func (s *CheckpointStore) IDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(checkpointPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), checkpointPrefix))
		}
		return nil
	})
	return ids, err
}

// Close closes the underlying database.
func (s *CheckpointStore) Close() error {
	return s.db.Close()
}
