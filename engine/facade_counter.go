package engine

import "strconv"

// facade_counter.go implements spec.md §4.7.8: increment/decrement against
// a decimal-ASCII-encoded numeric value, saturating at 0 on decrement and
// wrapping on overflow, reallocating the backing item when the new encoding
// grows past its current capacity. IQIncr/IQDecr operate against a Q_INCR
// lease's pending version; COIncr/CODecr operate against an O_REF lease's
// pending version within a session's read/modify/write protocol.

func parseCounter(data []byte) (uint64, bool) {
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// applyDelta adds delta to n, saturating at 0 going down and wrapping
// (mod 2^64) going up, matching memcached's documented counter semantics.
func applyDelta(n, delta uint64, decr bool) uint64 {
	if decr {
		if delta > n {
			return 0
		}
		return n - delta
	}
	return n + delta // wraps on overflow, same as Go's unsigned add
}

// resizeCounterItem writes newVal's decimal encoding into it's payload,
// reallocating a replacement item if the encoding no longer fits, and
// returns the item now holding the value (it itself if no resize was
// needed).
func (s *store) resizeCounterItem(it *Item, newVal uint64) *Item {
	enc := strconv.FormatUint(newVal, 10)
	if len(enc) <= len(it.Data) {
		copy(it.Data, enc)
		it.Data = it.Data[:len(enc)]
		return it
	}
	replacement := newItem(s.slabs.SlabIDFor(len(enc)), it.Key, len(enc), it.reserved)
	copy(replacement.Data, enc)
	replacement.DataFlags = it.DataFlags
	replacement.Exptime = it.Exptime
	replacement.Pending = it.Pending
	replacement.Flags = it.Flags
	replacement.CoFlags = it.CoFlags
	if it.reserved {
		replacement.setPinned()
	}
	s.replace(it, replacement)
	return replacement
}

// IQIncr/IQDecr implement spec.md §4.7.8 for the Q_INCR lease family: delta
// is applied to the pending version staged for key (tagged CoQIncr),
// materializing that pending version from the live value on first use if
// none is staged yet. They take no transaction id and neither check nor
// mint a Q_INCR lease item.
func (e *Engine) iqDelta(key []byte, delta uint64, decr bool) (IQResult, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validKey(key) {
		return IQClientError, 0
	}

	pv := e.index.Find(pendingKey(key))
	if pv == nil {
		val := e.store.peek(key)
		if val == nil {
			return IQNotFound, 0
		}
		n, ok := parseCounter(val.Data)
		if !ok {
			return IQClientError, 0
		}
		enc := strconv.FormatUint(n, 10)
		pv = newItem(e.slabs.SlabIDFor(len(enc)), pendingKey(key), len(enc), true)
		copy(pv.Data, enc)
		pv.DataFlags = val.DataFlags
		pv.Flags |= FlagLeaseHolder
		pv.CoFlags = CoQIncr
		e.store.link(pv)
		pv.setPinned()
	}

	n, ok := parseCounter(pv.Data)
	if !ok {
		return IQClientError, 0
	}
	n = applyDelta(n, delta, decr)
	e.store.resizeCounterItem(pv, n)
	return IQOK, n
}

func (e *Engine) IQIncr(key []byte, delta uint64) (IQResult, uint64) {
	return e.iqDelta(key, delta, false)
}

func (e *Engine) IQDecr(key []byte, delta uint64) (IQResult, uint64) {
	return e.iqDelta(key, delta, true)
}

// COIncr/CODecr implement spec.md §4.7.8's CO counterpart: once sid is
// listed in key's colease, delta applies to key's pending version, which is
// materialized from the live value if none is staged yet.
func (e *Engine) coDelta(sid, key []byte, delta uint64, decr bool) (COResult, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validKey(key) {
		return COInvalid, 0
	}

	co := e.index.Find(coleaseKey(key))
	if co == nil || !keylistCheck(co.Data, sid) {
		return COAbort, 0
	}

	pv := e.index.Find(pendingKey(key))
	if pv == nil {
		val := e.store.peek(key)
		if val == nil {
			return CONotFound, 0
		}
		n, ok := parseCounter(val.Data)
		if !ok {
			return COInvalid, 0
		}
		enc := strconv.FormatUint(n, 10)
		pv = newItem(e.slabs.SlabIDFor(len(enc)), pendingKey(key), len(enc), true)
		copy(pv.Data, enc)
		pv.DataFlags = val.DataFlags
		pv.Flags |= FlagLeaseHolder
		pv.CoFlags = CoORef
		e.store.link(pv)
		pv.setPinned()
	}

	n, ok := parseCounter(pv.Data)
	if !ok {
		return COInvalid, 0
	}
	n = applyDelta(n, delta, decr)
	e.store.resizeCounterItem(pv, n)
	return COOK, n
}

func (e *Engine) COIncr(sid, key []byte, delta uint64) (COResult, uint64) {
	return e.coDelta(sid, key, delta, false)
}

func (e *Engine) CODecr(sid, key []byte, delta uint64) (COResult, uint64) {
	return e.coDelta(sid, key, delta, true)
}
