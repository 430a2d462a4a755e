package mapkv

// Locker pairs a Cache with a LockPool and is the single coordination
// point every Map operation routes through before touching the cache or
// the store. It adds no policy of its own; it exists so a future
// implementation could swap synchronization strategies in one place.
//
// All Map facades sharing a registry key (path, sub-database) share the
// same *Locker instance: that sharing is what keeps one facade's write
// from invisibly poisoning another facade's cache.
type Locker struct {
	Cache Cache
	Locks LockPool
}

func newLocker(cache Cache, locks LockPool) *Locker {
	return &Locker{Cache: cache, Locks: locks}
}
