package mapkv

import (
	"fmt"
	"path/filepath"
	"sync"
)

// registryKey identifies one logical database: a canonical store path
// plus the sub-database within it. Every Map opened against the same
// (path, sub-database) pair — regardless of how many times Open is
// called, or from how many goroutines — shares one Locker, so their
// caches can never disagree about a key's value.
//
// The underlying store handle is shared more broadly, at the path level
// alone (storeRegistry below): a store environment, and the file lock
// and mmap it holds, is one resource per path no matter how many
// sub-databases are opened within it.
type registryKey struct {
	path  string
	subDB string
}

type storeEntry struct {
	store    *boltStore
	maxDBs   int
	refCount int
}

type lockerEntry struct {
	locker    *Locker
	cacheKind string
	lockKind  string
	refCount  int
}

// registry is the process-wide shared-resource table. It is grounded on
// a registry of canonical path to a
// refcounted entry, so concurrent Opens of the same file coordinate
// instead of racing to create independent handles.
type registry struct {
	mu      sync.Mutex
	stores  map[string]*storeEntry
	lockers map[registryKey]*lockerEntry
}

var globalRegistry = &registry{
	stores:  make(map[string]*storeEntry),
	lockers: make(map[registryKey]*lockerEntry),
}

// acquired bundles the two shared resources a Map needs, so callers
// don't have to reach back into the registry's internals.
type acquired struct {
	store  *boltStore
	locker *Locker
}

// acquire returns the shared store and locker for path/cfg.subDB,
// creating either or both on first use. A second acquire for a path
// already open with a different max_dbs ceiling fails with
// ErrConfigConflict, since max_dbs is a property of the whole store
// environment, not of one sub-database. A second acquire for the same
// (path, sub-database) pair with an incompatible cache/lock-pool kind
// fails the same way: two facades silently disagreeing about caching
// policy on the same logical database would let one facade's write
// invisibly poison another's stale cache entry.
func (r *registry) acquire(path string, cfg *mapConfig) (*acquired, error) {
	canon, err := canonicalPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving path: %w", ErrStoreFailure, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	store, err := r.acquireStoreLocked(canon, cfg.maxDBs)
	if err != nil {
		return nil, err
	}

	locker, err := r.acquireLockerLocked(registryKey{path: canon, subDB: cfg.subDB}, cfg)
	if err != nil {
		r.releaseStoreLocked(canon)
		return nil, err
	}

	return &acquired{store: store, locker: locker}, nil
}

func (r *registry) acquireStoreLocked(canon string, maxDBs int) (*boltStore, error) {
	if entry, ok := r.stores[canon]; ok {
		if entry.maxDBs != maxDBs {
			return nil, fmt.Errorf(
				"%w: %s already open with max_dbs=%d, requested max_dbs=%d",
				ErrConfigConflict, canon, entry.maxDBs, maxDBs,
			)
		}

		entry.refCount++

		return entry.store, nil
	}

	store, err := openBoltStore(canon, maxDBs)
	if err != nil {
		return nil, err
	}

	r.stores[canon] = &storeEntry{store: store, maxDBs: maxDBs, refCount: 1}

	return store, nil
}

func (r *registry) acquireLockerLocked(key registryKey, cfg *mapConfig) (*Locker, error) {
	cache := cfg.cacheFactory()
	locks := cfg.lockFactory()

	if entry, ok := r.lockers[key]; ok {
		if cache.Kind() != entry.cacheKind || locks.Kind() != entry.lockKind {
			return nil, fmt.Errorf(
				"%w: %s already open with cache=%s/lock=%s, requested cache=%s/lock=%s",
				ErrConfigConflict, key.path, entry.cacheKind, entry.lockKind, cache.Kind(), locks.Kind(),
			)
		}

		entry.refCount++

		return entry.locker, nil
	}

	entry := &lockerEntry{
		locker:    newLocker(cache, locks),
		cacheKind: cache.Kind(),
		lockKind:  locks.Kind(),
		refCount:  1,
	}

	r.lockers[key] = entry

	return entry.locker, nil
}

// release drops one reference to path/subDB's store and locker, closing
// and evicting whichever of them nobody holds anymore.
func (r *registry) release(path, subDB string) error {
	canon, err := canonicalPath(path)
	if err != nil {
		return fmt.Errorf("%w: resolving path: %w", ErrStoreFailure, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.lockers[registryKey{path: canon, subDB: subDB}]; ok {
		entry.refCount--
		if entry.refCount == 0 {
			delete(r.lockers, registryKey{path: canon, subDB: subDB})
		}
	}

	return r.releaseStoreLocked(canon)
}

func (r *registry) releaseStoreLocked(canon string) error {
	entry, ok := r.stores[canon]
	if !ok {
		return nil
	}

	entry.refCount--
	if entry.refCount > 0 {
		return nil
	}

	delete(r.stores, canon)

	return entry.store.close()
}

// canonicalPath resolves path the way a process-wide file registry keys
// its entries: absolute, with symlinks resolved, so two different
// strings naming the same file always collide on the same registry
// entry. A not-yet-existing path (the common case for a fresh database
// file) falls back to the absolute form.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// File does not exist yet (first Open creates it): the absolute
		// form is canonical enough, since nothing can yet symlink to it.
		return abs, nil
	}

	return resolved, nil
}
