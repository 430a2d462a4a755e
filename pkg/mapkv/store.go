package mapkv

import (
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// kvStore is the transactional contract this package consumes from the
// embedded mmap KV engine: ACID single-writer/multi-reader transactions
// over byte keys and values, with ordered key traversal and named
// sub-databases. the engine itself is treated as an external
// boundary; kvStore is that boundary's Go-shaped contract, implemented in
// production by boltStore over go.etcd.io/bbolt.
type kvStore interface {
	view(fn func(kvTx) error) error
	update(fn func(kvTx) error) error
	stat(subDB string) (int, error)
	drop(subDB string) error
	close() error
}

// kvTx is a single store transaction, scoped to one sub-database per call
// (the sub-database name is passed per method rather than bound to the
// transaction, since a Map only ever touches its own sub-database).
type kvTx interface {
	get(subDB string, key []byte) (value []byte, found bool, err error)
	put(subDB string, key, value []byte) error
	del(subDB string, key []byte) (existed bool, err error)
	cursor(subDB string, reverse bool) (kvCursor, error)
}

// kvCursor streams key/value pairs in store order (or reverse order).
type kvCursor interface {
	// next advances the cursor and returns the next pair. ok is false
	// once the cursor is exhausted.
	next() (key, value []byte, ok bool)
}

const defaultSubDB = "" // the LMDB-style unnamed default sub-database

// boltStore adapts go.etcd.io/bbolt to kvStore. Named sub-databases map
// onto bbolt top-level buckets; the default sub-database maps onto a
// fixed, always-present bucket so Get/Put/Delete have something to touch
// even before any named bucket is created.
type boltStore struct {
	db *bolt.DB

	mu      sync.Mutex
	maxDBs  int
	buckets map[string]bool // named (non-default) buckets created so far
}

var defaultBucketName = []byte("__mapkv_default__")

func openBoltStore(path string, maxDBs int) (*boltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: opening store: %w", ErrStoreFailure, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(defaultBucketName)
		return createErr
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: creating default sub-database: %w", ErrStoreFailure, err)
	}

	return &boltStore{db: db, maxDBs: maxDBs, buckets: make(map[string]bool)}, nil
}

func (s *boltStore) bucketName(subDB string) []byte {
	if subDB == defaultSubDB {
		return defaultBucketName
	}

	return []byte(subDB)
}

// ensureAllowed enforces the "max_dbs=0 with a non-nil sub-db name
// is an error from the underlying store" contract, and the ceiling on how
// many distinct named sub-databases may be opened.
func (s *boltStore) ensureAllowed(subDB string) error {
	if subDB == defaultSubDB {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buckets[subDB] {
		return nil
	}

	if s.maxDBs <= 0 {
		return fmt.Errorf("%w: sub-database %q requires max_dbs >= 1", ErrStoreFailure, subDB)
	}

	if len(s.buckets) >= s.maxDBs {
		return fmt.Errorf("%w: sub-database capacity (%d) exhausted", ErrStoreFailure, s.maxDBs)
	}

	s.buckets[subDB] = true

	return nil
}

func (s *boltStore) view(fn func(kvTx) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx, store: s})
	})
	if err != nil {
		return wrapStoreErr(err)
	}

	return nil
}

func (s *boltStore) update(fn func(kvTx) error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx, store: s})
	})
	if err != nil {
		return wrapStoreErr(err)
	}

	return nil
}

func (s *boltStore) stat(subDB string) (int, error) {
	count := 0

	err := s.view(func(tx kvTx) error {
		bt := tx.(*boltTx)

		b := bt.tx.Bucket(s.bucketName(subDB))
		if b != nil {
			count = b.Stats().KeyN
		}

		return nil
	})

	return count, err
}

func (s *boltStore) drop(subDB string) error {
	name := s.bucketName(subDB)

	return s.update(func(tx kvTx) error {
		bt := tx.(*boltTx)

		if err := s.ensureAllowed(subDB); err != nil {
			return err
		}

		if err := bt.tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}

		_, err := bt.tx.CreateBucketIfNotExists(name)

		return err
	})
}

func (s *boltStore) close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: closing store: %w", ErrStoreFailure, err)
	}

	return nil
}

// wrapStoreErr classifies an error surfaced by a store transaction as a
// StoreFailure, unless it is already one of our sentinel errors raised
// from inside the transaction callback (e.g. ensureAllowed's
// max_dbs/capacity errors), which already carry that classification.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrStoreFailure) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrStoreFailure, err)
}

type boltTx struct {
	tx    *bolt.Tx
	store *boltStore
}

func (t *boltTx) get(subDB string, key []byte) ([]byte, bool, error) {
	if err := t.store.ensureAllowed(subDB); err != nil {
		return nil, false, err
	}

	b := t.tx.Bucket(t.store.bucketName(subDB))
	if b == nil {
		return nil, false, nil
	}

	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}

	// Copy: bbolt's returned slice is only valid for the life of the
	// transaction.
	out := make([]byte, len(v))
	copy(out, v)

	return out, true, nil
}

func (t *boltTx) put(subDB string, key, value []byte) error {
	if err := t.store.ensureAllowed(subDB); err != nil {
		return err
	}

	b, err := t.tx.CreateBucketIfNotExists(t.store.bucketName(subDB))
	if err != nil {
		return err
	}

	return b.Put(key, value)
}

func (t *boltTx) del(subDB string, key []byte) (bool, error) {
	if err := t.store.ensureAllowed(subDB); err != nil {
		return false, err
	}

	b := t.tx.Bucket(t.store.bucketName(subDB))
	if b == nil {
		return false, nil
	}

	existed := b.Get(key) != nil
	if !existed {
		return false, nil
	}

	if err := b.Delete(key); err != nil {
		return false, err
	}

	return true, nil
}

func (t *boltTx) cursor(subDB string, reverse bool) (kvCursor, error) {
	if err := t.store.ensureAllowed(subDB); err != nil {
		return nil, err
	}

	b := t.tx.Bucket(t.store.bucketName(subDB))
	if b == nil {
		return &boltCursor{}, nil
	}

	return newBoltCursor(b.Cursor(), reverse), nil
}

type boltCursor struct {
	c         *bolt.Cursor
	reverse   bool
	started   bool
	exhausted bool
}

func newBoltCursor(c *bolt.Cursor, reverse bool) *boltCursor {
	return &boltCursor{c: c, reverse: reverse}
}

func (bc *boltCursor) next() ([]byte, []byte, bool) {
	if bc.c == nil || bc.exhausted {
		return nil, nil, false
	}

	var k, v []byte

	if !bc.started {
		bc.started = true
		if bc.reverse {
			k, v = bc.c.Last()
		} else {
			k, v = bc.c.First()
		}
	} else if bc.reverse {
		k, v = bc.c.Prev()
	} else {
		k, v = bc.c.Next()
	}

	if k == nil {
		bc.exhausted = true
		return nil, nil, false
	}

	keyCopy := make([]byte, len(k))
	copy(keyCopy, k)

	var valCopy []byte
	if v != nil {
		valCopy = make([]byte, len(v))
		copy(valCopy, v)
	}

	return keyCopy, valCopy, true
}
