package mapkv

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Map is a persistent associative container backed by a memory-mapped
// key-value store on disk, with an in-memory cache of decoded values in
// front of it. Values round-trip through a Codec; keys are strings (or
// []byte, accepted and decoded to the same string form).
//
// A Map is safe for concurrent use by multiple goroutines.
type Map struct {
	path   string
	subDB  string
	facade string

	store  *boltStore
	locker *Locker
	codec  Codec

	closed atomic.Bool
	mu     sync.Mutex // guards closed transition only
}

// Open opens (creating if necessary) the default, Safe facade: a
// structured, zstd-compressed codec over an LRU-128 cache. This is the
// facade most callers should use.
func Open(path string, opts ...Option) (*Map, error) {
	return openMap(path, "Safe", opts)
}

// OpenRaw opens the Raw-bytes facade: values must be []byte and are
// stored verbatim with no encoding, and no decoded-value cache sits in
// front of the store (caching raw bytes would only duplicate what the
// mmap already gives for free). WithCache is rejected on this facade.
func OpenRaw(path string, opts ...Option) (*Map, error) {
	all := append([]Option{WithCodec(RawBytesCodec{}), withNoCache()}, opts...)
	return openMap(path, "Raw", all)
}

// OpenCached opens the structured-codec facade with an explicit cache
// requirement: like Open, but fails fast with ErrTypeMismatch if
// paired via WithCache with a no-op cache, since the point of this
// facade is guaranteeing a real cache sits in front of the store.
func OpenCached(path string, opts ...Option) (*Map, error) {
	m, err := openMap(path, "Cached", opts)
	if err != nil {
		return nil, err
	}

	if m.locker.Cache.Kind() == "noop" {
		_ = m.Close()
		return nil, fmt.Errorf("%w: the cached facade requires a real cache", ErrTypeMismatch)
	}

	return m, nil
}

func openMap(path string, facade string, opts []Option) (*Map, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	res, err := globalRegistry.acquire(path, cfg)
	if err != nil {
		return nil, err
	}

	return &Map{
		path:   path,
		subDB:  cfg.subDB,
		facade: facade,
		store:  res.store,
		locker: res.locker,
		codec:  cfg.codec,
	}, nil
}

// Close releases this Map's reference to its underlying store. The
// store itself is only closed once every Map sharing it has been
// closed.
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Swap(true) {
		return nil
	}

	return globalRegistry.release(m.path, m.subDB)
}

func (m *Map) checkOpen() error {
	if m.closed.Load() {
		return ErrClosed
	}

	return nil
}

// Get returns the value stored for key. If key is absent, it returns
// ErrAbsentKey.
func (m *Map) Get(key any) (any, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	_, decoded, err := encodeKey(key)
	if err != nil {
		return nil, err
	}

	guard := m.locker.Locks.Lock(decoded)
	defer guard.Unlock()

	return m.getLocked(decoded)
}

// getLocked assumes the caller already holds decoded's guard. It is the
// primitive every compound operation composes, per the single-guard
// compound-operation design.
func (m *Map) getLocked(decoded string) (any, error) {
	if value, found, isMissing := m.locker.Cache.Get(decoded); found {
		if isMissing {
			return nil, ErrAbsentKey
		}

		return value, nil
	}

	raw, found, err := m.readLocked(decoded)
	if err != nil {
		return nil, err
	}

	if !found {
		m.locker.Cache.PutMissing(decoded)
		return nil, ErrAbsentKey
	}

	value, err := m.codec.Deserialize(raw)
	if err != nil {
		return nil, err
	}

	m.locker.Cache.Put(decoded, value)

	return value, nil
}

func (m *Map) readLocked(decoded string) (raw []byte, found bool, err error) {
	err = m.store.view(func(tx kvTx) error {
		raw, found, err = tx.get(m.subDB, []byte(decoded))
		return err
	})

	return raw, found, err
}

// GetDefault returns the value stored for key, or def if key is absent.
func (m *Map) GetDefault(key any, def any) (any, error) {
	v, err := m.Get(key)
	if err != nil {
		if isAbsent(err) {
			return def, nil
		}

		return nil, err
	}

	return v, nil
}

// Set stores value under key, overwriting any existing entry.
func (m *Map) Set(key any, value any) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	_, decoded, err := encodeKey(key)
	if err != nil {
		return err
	}

	guard := m.locker.Locks.Lock(decoded)
	defer guard.Unlock()

	return m.setLocked(decoded, value)
}

func (m *Map) setLocked(decoded string, value any) error {
	raw, err := m.codec.Serialize(value)
	if err != nil {
		return err
	}

	err = m.store.update(func(tx kvTx) error {
		return tx.put(m.subDB, []byte(decoded), raw)
	})
	if err != nil {
		return err
	}

	m.locker.Cache.Put(decoded, value)

	return nil
}

// Delete removes key. It returns ErrAbsentKey if key was not present.
func (m *Map) Delete(key any) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	_, decoded, err := encodeKey(key)
	if err != nil {
		return err
	}

	guard := m.locker.Locks.Lock(decoded)
	defer guard.Unlock()

	return m.deleteLocked(decoded)
}

func (m *Map) deleteLocked(decoded string) error {
	var existed bool

	err := m.store.update(func(tx kvTx) error {
		var delErr error
		existed, delErr = tx.del(m.subDB, []byte(decoded))

		return delErr
	})
	if err != nil {
		return err
	}

	// PutMissing, not Evict: a concurrent reader that already holds a
	// stale present-value cache entry for this key (read before this
	// delete acquired the guard) must not be able to repopulate the
	// cache with that stale value after this delete releases the guard.
	m.locker.Cache.PutMissing(decoded)

	if !existed {
		return ErrAbsentKey
	}

	return nil
}

// Contains reports whether key is present, without surfacing
// ErrAbsentKey as an error.
func (m *Map) Contains(key any) (bool, error) {
	_, err := m.Get(key)
	if err == nil {
		return true, nil
	}

	if isAbsent(err) {
		return false, nil
	}

	return false, err
}

// Len reports the number of entries in the store. It always asks the
// store directly: the cache may hold fewer entries than the store (cold
// entries) or MISSING placeholders for absent keys, neither of which
// are a valid proxy for store size.
func (m *Map) Len() (int, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	return m.store.stat(m.subDB)
}

// Clear removes every entry from the store. Every key the cache
// currently holds is overwritten with the MISSING sentinel rather than
// evicted outright, for the same stale-reader reason as Delete.
func (m *Map) Clear() error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	keys := m.locker.Cache.Keys()

	if err := m.store.drop(m.subDB); err != nil {
		return err
	}

	for _, k := range keys {
		m.locker.Cache.PutMissing(k)
	}

	return nil
}

// Equal reports whether m and other contain the same set of keys each
// mapped to a deeply equal value. Equal takes no cross-map lock: it is
// only meaningful as a snapshot comparison on maps that are not
// concurrently mutated.
func (m *Map) Equal(other *Map) (bool, error) {
	if err := m.checkOpen(); err != nil {
		return false, err
	}

	if err := other.checkOpen(); err != nil {
		return false, err
	}

	selfLen, err := m.Len()
	if err != nil {
		return false, err
	}

	otherLen, err := other.Len()
	if err != nil {
		return false, err
	}

	if selfLen != otherLen {
		return false, nil
	}

	for k, v := range m.Items() {
		ov, err := other.Get(k)
		if err != nil {
			if isAbsent(err) {
				return false, nil
			}

			return false, err
		}

		if !valuesEqual(v, ov) {
			return false, nil
		}
	}

	return true, nil
}

// String renders the handle's identity, not its contents: the facade
// name, the store path, and the sub-database if not the default one.
// Printing a Map never touches the store or the cache, since a handle to
// a large persistent database should be cheap to log.
func (m *Map) String() string {
	if m.subDB == defaultSubDB {
		return fmt.Sprintf("mapkv.%s(%s)", m.facade, m.path)
	}

	return fmt.Sprintf("mapkv.%s(%s):%s", m.facade, m.path, m.subDB)
}

func isAbsent(err error) bool {
	return errors.Is(err, ErrAbsentKey)
}

// valuesEqual compares decoded values the way Equal needs to: values
// produced by the structured codec are frequently maps or slices, which
// panic under Go's == operator, so comparison goes through
// reflect.DeepEqual rather than the naive "per Go's ==" shortcut.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
