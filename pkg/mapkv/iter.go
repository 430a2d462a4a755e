package mapkv

import "iter"

// Keys returns an iterator over the map's keys. The sequence of keys is
// captured incrementally by advancing a single store cursor as the
// caller consumes the iterator, not materialized up front: a key
// inserted after iteration begins may or may not be observed, depending
// on where the cursor happens to be.
func (m *Map) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		m.scan(false, func(decoded string, _ []byte) bool {
			return yield(decoded)
		})
	}
}

// ReversedKeys returns an iterator over the map's keys in reverse store
// order, with the same incremental-capture semantics as Keys.
func (m *Map) ReversedKeys() iter.Seq[string] {
	return func(yield func(string) bool) {
		m.scan(true, func(decoded string, _ []byte) bool {
			return yield(decoded)
		})
	}
}

// Values returns an iterator over the map's values in store key order.
func (m *Map) Values() iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, v := range m.Items() {
			if !yield(v) {
				return
			}
		}
	}
}

// Items returns an iterator over the map's key/value pairs.
//
// Iteration holds a single store read transaction open for its whole
// lifetime and advances its cursor incrementally as the caller consumes
// pairs: this is per-key atomic, not snapshot-global. No global lock is
// held, and no writer is blocked, but a key's value falls back to
// whatever that one transaction's cursor saw at the moment it stepped
// past that key if the cache no longer holds a fresher entry for it.
// Concretely:
//
//   - If the key is a cache hit at yield time, the (possibly much
//     fresher, concurrently written) cached value is returned.
//   - If the key is a cache miss, the value decoded from this
//     iteration's own read-transaction snapshot is returned — which may
//     be stale relative to writes that happened after iteration began.
//
// A caller that requires strict freshness should clear the cache first,
// or iterate a Map opened with a no-op cache.
func (m *Map) Items() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		m.scan(false, func(decoded string, snapshotRaw []byte) bool {
			value, err := m.resolveItem(decoded, snapshotRaw)
			if err != nil {
				// Deleted (and tombstoned as MISSING) between the cursor
				// step and this resolution; skip rather than surface a
				// transient race as an iteration error.
				if isAbsent(err) {
					return true
				}

				return false
			}

			return yield(decoded, value)
		})
	}
}

// resolveItem decides the value to report for one yielded key: a cache
// hit wins outright (however fresh or stale it happens to be relative
// to the iteration's own snapshot); a cache miss falls back to decoding
// snapshotRaw, the bytes this iteration's cursor read for that key.
// The fallback decode is never written back into the cache: on a small
// cache, inserting it would evict whatever later key's fresh entry the
// cache currently holds, turning one stale read into a cascade of them.
func (m *Map) resolveItem(decoded string, snapshotRaw []byte) (any, error) {
	guard := m.locker.Locks.Lock(decoded)
	defer guard.Unlock()

	if value, found, isMissing := m.locker.Cache.Get(decoded); found {
		if isMissing {
			return nil, ErrAbsentKey
		}

		return value, nil
	}

	return m.codec.Deserialize(snapshotRaw)
}

// scan drives one store cursor (forward or reverse) for the whole life
// of a single bolt read transaction, calling step for each key/raw-value
// pair in turn. step returns false to stop early, mirroring the
// yield-returns-false contract of the iter package. The transaction
// stays open for as long as the caller keeps stepping, so intervening
// writes from other goroutines are invisible to values read via it
// (they are visible only through the cache, per Items' doc comment).
func (m *Map) scan(reverse bool, step func(decoded string, raw []byte) bool) {
	if m.closed.Load() {
		return
	}

	_ = m.store.view(func(tx kvTx) error {
		cur, err := tx.cursor(m.subDB, reverse)
		if err != nil {
			return err
		}

		for {
			k, v, ok := cur.next()
			if !ok {
				return nil
			}

			if !step(decodeKeyBytes(k), v) {
				return nil
			}
		}
	})
}
