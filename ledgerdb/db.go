package ledgerdb

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	// Register the bolt walletdb driver used by kvdb.Create.
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
)

var (
	// stateBucketKey is the top level bucket holding every ledger blob.
	//
	// maps: logical key -> serialized blob
	stateBucketKey = []byte("ledger-state")

	// ErrNoStateBucket is returned when the state bucket is missing, e.g.
	// because the database was not created by NewStore.
	ErrNoStateBucket = errors.New("ledger state bucket does not exist")
)

// Store is a blob store over a kvdb backend. Puts are staged in memory and
// only written by Flush, in a single transaction.
type Store struct {
	db kvdb.Backend

	mu     sync.Mutex
	staged map[string][]byte
}

// NewStore wraps db, creating the state bucket if needed.
func NewStore(db kvdb.Backend) (*Store, error) {
	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(stateBucketKey)
		return err
	}, func() {})
	if err != nil {
		return nil, err
	}

	return &Store{
		db:     db,
		staged: make(map[string][]byte),
	}, nil
}

// OpenBolt opens or creates a bolt database at path.
func OpenBolt(path string, noFreelistSync bool,
	timeout time.Duration) (kvdb.Backend, error) {

	db, err := kvdb.Create(
		kvdb.BoltBackendName, path, noFreelistSync, timeout, false,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to open ledger db %v: %w", path,
			err)
	}

	return db, nil
}

// Get returns the blob stored under key. Staged values take precedence over
// flushed ones.
func (s *Store) Get(key string) (fn.Option[[]byte], error) {
	s.mu.Lock()
	if v, ok := s.staged[key]; ok {
		s.mu.Unlock()
		return fn.Some(v), nil
	}
	s.mu.Unlock()

	var value []byte
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(stateBucketKey)
		if bucket == nil {
			return ErrNoStateBucket
		}

		v := bucket.Get([]byte(key))
		if v != nil {
			value = make([]byte, len(v))
			copy(value, v)
		}

		return nil
	}, func() {
		value = nil
	})
	if err != nil {
		return fn.None[[]byte](), err
	}
	if value == nil {
		return fn.None[[]byte](), nil
	}

	return fn.Some(value), nil
}

// Put stages value under key.
func (s *Store) Put(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.staged[key] = value
}

// Flush writes every staged value in one transaction.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.staged) == 0 {
		return nil
	}

	keys := make([]string, 0, len(s.staged))
	for k := range s.staged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	err := kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(stateBucketKey)
		if bucket == nil {
			return ErrNoStateBucket
		}

		for _, k := range keys {
			if err := bucket.Put([]byte(k), s.staged[k]); err != nil {
				return fmt.Errorf("put %v: %w", k, err)
			}
		}

		return nil
	}, func() {})
	if err != nil {
		return err
	}

	log.Debugf("Flushed %d ledger blobs", len(keys))
	s.staged = make(map[string][]byte)

	return nil
}

// Keys returns the flushed keys with their blob sizes.
func (s *Store) Keys() (map[string]int, error) {
	sizes := make(map[string]int)
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(stateBucketKey)
		if bucket == nil {
			return ErrNoStateBucket
		}

		return bucket.ForEach(func(k, v []byte) error {
			sizes[string(k)] = len(v)
			return nil
		})
	}, func() {
		sizes = make(map[string]int)
	})
	if err != nil {
		return nil, err
	}

	return sizes, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
