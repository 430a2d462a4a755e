package mapkv

// SetDefault returns the current value for key, setting it to def first
// if key is absent. It acquires key's guard once for the whole
// check-then-act sequence, per the single-guard compound-operation
// design.
func (m *Map) SetDefault(key any, def any) (any, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	_, decoded, err := encodeKey(key)
	if err != nil {
		return nil, err
	}

	guard := m.locker.Locks.Lock(decoded)
	defer guard.Unlock()

	v, err := m.getLocked(decoded)
	if err == nil {
		return v, nil
	}

	if !isAbsent(err) {
		return nil, err
	}

	if err := m.setLocked(decoded, def); err != nil {
		return nil, err
	}

	return def, nil
}

// Pop removes key and returns its value. It returns ErrAbsentKey if key
// was not present.
func (m *Map) Pop(key any) (any, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	_, decoded, err := encodeKey(key)
	if err != nil {
		return nil, err
	}

	guard := m.locker.Locks.Lock(decoded)
	defer guard.Unlock()

	v, err := m.getLocked(decoded)
	if err != nil {
		return nil, err
	}

	if err := m.deleteLocked(decoded); err != nil {
		return nil, err
	}

	return v, nil
}

// PopDefault removes key and returns its value, or def without mutating
// the map if key is absent.
func (m *Map) PopDefault(key any, def any) (any, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	_, decoded, err := encodeKey(key)
	if err != nil {
		return nil, err
	}

	guard := m.locker.Locks.Lock(decoded)
	defer guard.Unlock()

	v, err := m.getLocked(decoded)
	if err != nil {
		if isAbsent(err) {
			return def, nil
		}

		return nil, err
	}

	if err := m.deleteLocked(decoded); err != nil {
		return nil, err
	}

	return v, nil
}

// KV is a single key/value pair, returned by PopItem and yielded by
// Items.
type KV struct {
	Key   string
	Value any
}

// PopItem removes and returns the lexicographically-last key/value pair
// in store order if last is true, or the first if last is false. It
// returns ErrAbsentKey if the map is empty.
func (m *Map) PopItem(last bool) (KV, error) {
	if err := m.checkOpen(); err != nil {
		return KV{}, err
	}

	decoded, found, err := m.edgeKeyLocked(last)
	if err != nil {
		return KV{}, err
	}

	if !found {
		return KV{}, ErrAbsentKey
	}

	guard := m.locker.Locks.Lock(decoded)
	defer guard.Unlock()

	v, err := m.getLocked(decoded)
	if err != nil {
		if isAbsent(err) {
			// Raced with a concurrent delete between the cursor peek and
			// acquiring the guard; the caller sees an empty-map outcome
			// for this attempt rather than a false positive.
			return KV{}, ErrAbsentKey
		}

		return KV{}, err
	}

	if err := m.deleteLocked(decoded); err != nil {
		return KV{}, err
	}

	return KV{Key: decoded, Value: v}, nil
}

// edgeKeyLocked peeks the first key a forward (last=false) or reverse
// (last=true) store cursor yields, without holding any per-key guard
// (none is needed: the result is only a candidate, re-validated under
// its own guard by the caller).
func (m *Map) edgeKeyLocked(last bool) (decoded string, found bool, err error) {
	err = m.store.view(func(tx kvTx) error {
		cur, cerr := tx.cursor(m.subDB, last)
		if cerr != nil {
			return cerr
		}

		k, _, ok := cur.next()
		if !ok {
			return nil
		}

		decoded = decodeKeyBytes(k)
		found = true

		return nil
	})

	return decoded, found, err
}

// Update merges entries from other into m, overwriting any existing
// keys. Every value is serialized before anything is written: a codec
// failure on any one pair fails the whole call without mutating either
// the store or the cache, rather than leaving the pairs serialized
// before the bad one already committed. Pairs that do pass serialization
// are then written, each under its own key's guard; Update is not
// atomic across pairs once writing begins, matching the store's
// single-writer transaction granularity.
func (m *Map) Update(other map[string]any) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	type encodedPair struct {
		decoded string
		value   any
		raw     []byte
	}

	pairs := make([]encodedPair, 0, len(other))

	for k, v := range other {
		_, decoded, err := encodeKey(k)
		if err != nil {
			return err
		}

		raw, err := m.codec.Serialize(v)
		if err != nil {
			return err
		}

		pairs = append(pairs, encodedPair{decoded: decoded, value: v, raw: raw})
	}

	for _, p := range pairs {
		guard := m.locker.Locks.Lock(p.decoded)

		err := m.store.update(func(tx kvTx) error {
			return tx.put(m.subDB, []byte(p.decoded), p.raw)
		})
		if err == nil {
			m.locker.Cache.Put(p.decoded, p.value)
		}

		guard.Unlock()

		if err != nil {
			return err
		}
	}

	return nil
}
