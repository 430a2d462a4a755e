// Package mapkv provides a persistent associative map backed by a
// memory-mapped key-value store.
//
// A *Map reads and writes like an ordinary in-memory map, but its state
// lives on disk (via go.etcd.io/bbolt) and is shared across every handle
// opened on the same path and sub-database, including handles in other
// goroutines and other *Map values in the same process.
//
// # Basic usage
//
//	m, err := mapkv.Open("/var/db/orders.kv")
//	if err != nil {
//	    // handle it
//	}
//	defer m.Close()
//
//	if err := m.Set("order-1", Order{Total: 42}); err != nil {
//	    // handle it
//	}
//
//	v, err := m.Get("order-1")
//	if errors.Is(err, mapkv.ErrAbsentKey) {
//	    // not found
//	}
//
// # Facades
//
// [Open] returns the Safe facade: a structured (gob+zstd) codec over an
// LRU-128 cache by default. [OpenRaw] returns the Raw-bytes facade: an
// identity codec that only accepts []byte values, with caching and
// per-key locking disabled (the underlying store's own transactions are
// the only synchronization). [OpenCached] returns the Cached-structured
// facade: the same codec as Open but rejects a no-op cache at
// construction.
//
// # Concurrency and cache coherence
//
// Every handle sharing a (path, sub-database) pair shares the same
// in-memory cache and the same per-key lock pool, so one handle's write
// is visible to another handle's cache-backed read. Iteration
// (Keys/Values/Items) is not snapshot-isolated: it holds one store read
// transaction for its own cursor, but a cache hit on a yielded key wins
// over that transaction's value, so a key written to after iteration
// begins can yield either the fresher cached value or the iteration's
// own stale snapshot, depending on whether the cache still holds it. See
// [Map.Items] for the exact trade-off.
package mapkv
