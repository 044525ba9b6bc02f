package engine

import "strconv"

// StoreReqType selects the update-family operation iqset implements
// (spec.md §4.7.2): set, add, replace, append, prepend, cas, iqset, delete.
// qareg/qaread from the spec's operation list are the façade entry points
// for QuarantineAndRegister/QuarantineAndRead below, not additional
// StoreReqType values — they don't go through iqset's store-family switch.
type StoreReqType int

const (
	ReqSet StoreReqType = iota
	ReqAdd
	ReqReplace
	ReqAppend
	ReqPrepend
	ReqCas
	ReqIQSet
	ReqDelete
)

func encodeToken(v uint64) []byte {
	return []byte(strconv.FormatUint(v, 10))
}

func decodeToken(b []byte) (uint64, bool) {
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// mintLease creates a reserved, pinned lease item under leaseKey(key) with
// the given subtype and raw value, replacing whatever (if anything)
// currently holds that slot, and returns it.
func (e *Engine) mintLease(key []byte, subtype CoFlags, value []byte) *Item {
	return e.mintLeaseReplacing(e.index.Find(leaseKey(key)), key, subtype, value, 0)
}

// mintLeaseReplacing is like mintLease but takes the caller's already-looked-up
// old lease item (if any) so callers that need its prior Exptime or coflags
// don't do a second index lookup.
func (e *Engine) mintLeaseReplacing(old *Item, key []byte, subtype CoFlags, value []byte, exptime int64) *Item {
	lk := leaseKey(key)
	slabID := e.slabs.SlabIDFor(len(value))
	it := e.store.allocReserved(slabID, lk, len(value))
	copy(it.Data, value)
	it.Flags |= FlagLeaseHolder
	it.CoFlags = subtype
	it.Exptime = exptime
	if old != nil {
		e.store.replace(old, it)
	} else {
		e.store.link(it)
	}
	it.setPinned()
	return it
}

func (e *Engine) dropLease(key []byte) {
	lk := leaseKey(key)
	if it := e.index.Find(lk); it != nil {
		e.store.unlink(it)
	}
}

// txOwnsKey reports whether tid's transaction item already lists key as
// touched (spec.md §4.7.1's "tid is outside the current transaction's key
// set" test).
func (e *Engine) txOwnsKey(tid, key []byte) bool {
	tx := e.index.Find(tid)
	return tx != nil && keylistCheck(tx.Data, key)
}

// IQGet implements spec.md §4.7.1. The third return value carries the
// lease token when result is IQLease (a freshly minted token) or IQMiss
// (always LeaseHotmiss).
func (e *Engine) IQGet(key []byte, leaseToken uint64, tid []byte, override bool) (IQResult, *Item, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validKey(key) {
		return IQClientError, nil, 0
	}

	leaseIt := e.index.Find(leaseKey(key))

	if !e.txOwnsKey(tid, key) {
		val := e.store.get(key)
		if val != nil {
			if leaseIt != nil && leaseIt.HasQRefLease() {
				if tok, ok := decodeToken(leaseIt.Data); ok && tok == leaseToken {
					e.store.remove(val)
					return IQNoValue, nil, 0
				}
			}
			if override {
				if leaseIt == nil {
					token := e.leaseTokens.next()
					e.mintLease(key, CoI, encodeToken(token))
					e.store.unlink(val)
					e.store.remove(val)
					e.log.Debug().Str("key", string(key)).Uint64("token", token).Msg("iqget: minted I lease over existing value")
					return IQLease, nil, token
				}
				existingTok, _ := decodeToken(leaseIt.Data)
				e.store.remove(val)
				if existingTok != leaseToken {
					return IQMiss, nil, LeaseHotmiss
				}
				return IQNoValue, nil, 0
			}
			e.store.touch(val)
			if e.metrics != nil {
				e.metrics.Hits.Inc()
			}
			return IQValue, val, 0
		}

		if e.metrics != nil {
			e.metrics.Misses.Inc()
		}
		if leaseIt == nil {
			token := e.leaseTokens.next()
			e.mintLease(key, CoI, encodeToken(token))
			return IQLease, nil, token
		}
		existingTok, _ := decodeToken(leaseIt.Data)
		if existingTok == leaseToken {
			return IQNoValue, nil, 0
		}
		return IQMiss, nil, LeaseHotmiss
	}

	// tid owns the key: it must have quarantined it via Q_INV or Q_INCR.
	switch {
	case leaseIt != nil && leaseIt.HasQInvLease():
		return IQNoValue, nil, 0
	case leaseIt != nil && leaseIt.HasQIncrLease():
		pv := e.store.get(pendingKey(key))
		if pv == nil {
			return IQNoValue, nil, 0
		}
		return IQValue, pv, 0
	default:
		return IQNoValue, nil, 0
	}
}

// IQSet implements spec.md §4.7.2's update-family store.
func (e *Engine) IQSet(it *Item, reqType StoreReqType, leaseToken uint64) StoreResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validKey(it.Key) {
		return StoreClientError
	}

	switch reqType {
	case ReqIQSet:
		leaseIt := e.index.Find(leaseKey(it.Key))
		if leaseIt == nil || !leaseIt.HasILease() {
			return StoreNotStored
		}
		tok, ok := decodeToken(leaseIt.Data)
		if !ok || tok != leaseToken {
			return StoreNotStored
		}
		e.store.unlink(leaseIt)
		if marker := e.index.Find(markerKey(it.Key)); marker != nil {
			it.Pending = true
			e.store.unlink(marker)
		}
		if existing := e.store.peek(it.Key); existing != nil {
			e.store.replace(existing, it)
		} else {
			e.store.link(it)
		}
		return StoreStored

	case ReqAdd:
		if existing := e.store.peek(it.Key); existing != nil {
			return StoreNotStored
		}
		e.store.link(it)
		return StoreStored

	case ReqReplace:
		existing := e.store.peek(it.Key)
		if existing == nil {
			return StoreNotStored
		}
		e.store.replace(existing, it)
		return StoreStored

	case ReqAppend, ReqPrepend:
		existing := e.store.peek(it.Key)
		if existing == nil {
			return StoreNotStored
		}
		merged := make([]byte, 0, len(existing.Data)+len(it.Data))
		if reqType == ReqAppend {
			merged = append(merged, existing.Data...)
			merged = append(merged, it.Data...)
		} else {
			merged = append(merged, it.Data...)
			merged = append(merged, existing.Data...)
		}
		slabID := e.slabs.SlabIDFor(len(merged))
		if slabID == SlabInvalidID {
			// No partial state: the destination was never available, so
			// existing is untouched (spec.md §7).
			return StoreClientError
		}
		mergedItem := newItem(slabID, it.Key, len(merged), false)
		copy(mergedItem.Data, merged)
		mergedItem.DataFlags = existing.DataFlags
		mergedItem.Exptime = existing.Exptime
		if reqType == ReqPrepend {
			mergedItem.Flags |= FlagRAlign
		}
		e.store.replace(existing, mergedItem)
		return StoreStored

	case ReqCas:
		existing := e.store.peek(it.Key)
		if existing == nil {
			return StoreNotFound
		}
		if it.Cas != existing.Cas {
			return StoreExists
		}
		e.store.replace(existing, it)
		return StoreStored

	case ReqDelete:
		existing := e.store.peek(it.Key)
		if existing == nil {
			return StoreNotFound
		}
		e.store.unlink(existing)
		return StoreExists

	default: // ReqSet
		if existing := e.store.peek(it.Key); existing != nil {
			e.store.replace(existing, it)
		} else {
			e.store.link(it)
		}
		return StoreStored
	}
}

// Get is the classic read path (spec.md §8 scenario 1/2/3): lazy-expiry
// lookup plus a touch on hit.
func (e *Engine) Get(key []byte) (*Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it := e.store.get(key)
	if it == nil {
		if e.metrics != nil {
			e.metrics.Misses.Inc()
		}
		return nil, false
	}
	e.store.touch(it)
	if e.metrics != nil {
		e.metrics.Hits.Inc()
	}
	return it, true
}

// NewItem builds a value item sized for data's slab class, for callers
// that need to construct an Item before calling IQSet directly (the
// classic Set helper below does this internally).
func (e *Engine) NewItem(key, data []byte) *Item {
	it := newItem(e.slabs.SlabIDFor(len(data)), key, len(data), false)
	copy(it.Data, data)
	return it
}

// Set is the classic unconditional write path.
func (e *Engine) Set(key []byte, data []byte, dataFlags uint32, exptime int64) StoreResult {
	slabID := e.slabs.SlabIDFor(len(data))
	it := newItem(slabID, key, len(data), false)
	copy(it.Data, data)
	it.DataFlags = dataFlags
	it.Exptime = exptime
	return e.IQSet(it, ReqSet, 0)
}

// QuarantineAndRegister implements spec.md §4.7.3: establish a Q_INV lease
// for key, extending tid's transaction key-list and propagating the
// lease's exptime to the value item if present.
func (e *Engine) QuarantineAndRegister(tid, key []byte, exptime int64) IQResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validKey(key) {
		return IQClientError
	}

	e.store.assocKeyTid(tid, key)
	lease := e.store.assocTidLease(key, tid)
	lease.Exptime = exptime

	if val := e.store.peek(key); val != nil {
		val.Exptime = exptime
	}
	return IQOK
}

// QuarantineAndRead implements spec.md §4.7.4.
func (e *Engine) QuarantineAndRead(tid, key []byte, leaseToken uint64, exptime int64) (IQResult, *Item, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validKey(key) {
		return IQClientError, nil, 0
	}

	leaseIt := e.index.Find(leaseKey(key))
	if leaseIt != nil && leaseIt.IsQLease() {
		tok, ok := decodeToken(leaseIt.Data)
		if ok && tok == leaseToken {
			if pv := e.store.get(pendingKey(key)); pv != nil {
				return IQValue, pv, 0
			}
			if marker := e.index.Find(markerKey(key)); marker != nil {
				return IQNoValue, nil, 0
			}
			return IQNoValue, nil, 0
		}
		return IQMiss, nil, LeaseHotmiss
	}

	if leaseIt != nil && leaseIt.HasILease() {
		e.store.unlink(leaseIt)
		if e.metrics != nil {
			e.metrics.QLeaseVoids.Inc()
		}
	}

	token := e.leaseTokens.next()
	newLease := e.mintLease(key, CoQRef, encodeToken(token))
	newLease.Exptime = exptime

	var pv *Item
	if val := e.store.peek(key); val != nil {
		pvSlab := e.slabs.SlabIDFor(len(val.Data))
		pv = e.store.allocReserved(pvSlab, pendingKey(key), len(val.Data))
		copy(pv.Data, val.Data)
		pv.DataFlags = val.DataFlags
		pv.Pending = val.Pending
		pv.reserved = false
		pv.Exptime = exptime
		e.store.link(pv)
	}

	e.store.assocKeyTid(tid, key)
	return IQLease, pv, token
}

// Commit implements spec.md §4.7.5.
func (e *Engine) Commit(tid []byte, pendingFlag bool, configID uint32) IQResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.index.Find(tid)
	if tx == nil {
		return IQNotFound
	}

	keylistEach(tx.Data, func(key []byte) bool {
		e.commitKey(key, tid, pendingFlag, configID)
		return true
	})

	tx.unsetPinned()
	e.store.unlink(tx)
	return IQOK
}

func (e *Engine) commitKey(key, tid []byte, pendingFlag bool, configID uint32) {
	leaseIt := e.index.Find(leaseKey(key))
	switch {
	case leaseIt != nil && leaseIt.HasQInvLease():
		e.store.removeEntryFromList(leaseKey(key), tid)
	case leaseIt != nil:
		// Q_REF/Q_INCR leases are single-holder: the committing transaction
		// is that holder, so the lease is fully retired, not just trimmed.
		e.store.unlink(leaseIt)
	}

	pv := e.index.Find(pendingKey(key))
	if pv != nil {
		promoted := newItem(e.slabs.SlabIDFor(len(pv.Data)), key, len(pv.Data), false)
		copy(promoted.Data, pv.Data)
		promoted.DataFlags = pv.DataFlags
		promoted.Exptime = pv.Exptime
		promoted.Pending = pendingFlag
		promoted.ConfigNumber = configID
		if existing := e.store.peek(key); existing != nil {
			e.store.replace(existing, promoted)
		} else {
			e.store.link(promoted)
		}
		e.store.unlink(pv)
	} else if leaseIt != nil && leaseIt.HasQInvLease() {
		if existing := e.store.peek(key); existing != nil {
			e.store.unlink(existing)
		}
	}

	val := e.store.peek(key)
	marker := e.index.Find(markerKey(key))
	switch {
	case pendingFlag && val == nil && marker == nil:
		m := e.store.allocReserved(e.slabs.SlabIDFor(1), markerKey(key), 1)
		m.Data[0] = 1
		e.store.link(m)
	case !pendingFlag && marker != nil:
		e.store.unlink(marker)
	case val != nil && marker != nil:
		e.store.unlink(marker)
	}
}

// Release implements spec.md §4.7.6.
func (e *Engine) Release(tid []byte) IQResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := e.index.Find(tid)
	if tx == nil {
		return IQNotFound
	}

	keylistEach(tx.Data, func(key []byte) bool {
		if pv := e.index.Find(pendingKey(key)); pv != nil {
			e.store.unlink(pv)
		}
		leaseIt := e.index.Find(leaseKey(key))
		if leaseIt != nil {
			if leaseIt.HasQInvLease() {
				e.store.removeEntryFromList(leaseKey(key), tid)
			} else {
				e.store.unlink(leaseIt)
			}
		}
		return true
	})

	tx.unsetPinned()
	e.store.unlink(tx)
	return IQOK
}

// GetAndDelete implements spec.md §4.7.9.
func (e *Engine) GetAndDelete(key []byte, deleteLease bool) StoreResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if deleteLease {
		e.dropLease(key)
		if pv := e.index.Find(pendingKey(key)); pv != nil {
			e.store.unlink(pv)
		}
		if co := e.index.Find(coleaseKey(key)); co != nil {
			e.store.unlink(co)
		}
	}

	existing := e.store.peek(key)
	if existing == nil {
		return StoreNotFound
	}
	e.store.unlink(existing)
	return StoreExists
}
