package engine

// facade_co.go implements spec.md §4.7.7's CO (cooperative colease) family:
// the read/modify/write session protocol built on C/O_INV/O_REF coleases
// and session descriptors, mirroring the IQ family's lease discipline in
// facade_iq.go but keyed by session id (sid) rather than transaction id
// (tid). Every entry point below except CoUnlease starts with
// checkSessionLive, matching spec.md §4.7.7's opening rule that any CO
// operation first checks the session's status and cleans it up on ABORT
// before doing its own work; CoUnlease finalizes the session whatever its
// status.

// checkSessionLive looks up sid's session item (nil if none yet exists)
// and, if it is already SessAbort, finalizes it via cleanSession and
// reports the abort to the caller. Operations that haven't registered a
// session yet (first CIGet) see sess == nil and aborted == false.
func (e *Engine) checkSessionLive(sid []byte) (sess *Item, aborted bool) {
	sess = e.index.Find(sid)
	if sess != nil && sess.SessStatus == SessAbort {
		e.cleanSession(sid, sess, SessAbort)
		return nil, true
	}
	return sess, false
}

// abortSession flips an existing session's status to ABORT. The session
// item itself is left for its owner's next CO call (or Validate) to
// discover and finalize via checkSessionLive/cleanSession, matching the
// spec's "sess_status flips... when a conflicting writer requests the key"
// description rather than reaching in and unlinking another session's
// descriptor out from under it mid-operation.
func (e *Engine) abortSession(sid []byte) {
	if sess := e.index.Find(sid); sess != nil {
		sess.SessStatus = SessAbort
	}
}

// CIGet implements spec.md §4.7.7's first touch of a key by a session.
func (e *Engine) CIGet(sid, key []byte, leaseToken uint64) (COResult, *Item) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validKey(key) {
		return COInvalid, nil
	}
	if _, aborted := e.checkSessionLive(sid); aborted {
		return COAbort, nil
	}

	co := e.index.Find(coleaseKey(key))
	if co != nil && co.IsOLease() {
		if keylistCheck(co.Data, sid) {
			if pv := e.store.peek(pendingKey(key)); pv != nil {
				return COOK, pv
			}
			if val := e.store.peek(key); val != nil {
				return COOK, val
			}
			return CONotFound, nil
		}
		e.abortSession(sid)
		e.store.removeEntryFromList(coleaseKey(key), sid)
		return COAbort, nil
	}

	leaseIt := e.index.Find(leaseKey(key))
	if leaseIt != nil && (leaseIt.HasILease() || leaseIt.IsQLease()) {
		tok, ok := decodeToken(leaseIt.Data)
		if ok && tok == leaseToken {
			return COOK, nil
		}
		return CORetry, nil
	}

	e.store.assocKeySid(sid, key)
	val := e.store.peek(key)
	if val == nil {
		e.mintLease(key, CoI, encodeToken(e.leaseTokens.next()))
	}
	e.store.assocSidColease(key, sid, CoC)
	if val == nil {
		return CONotFound, nil
	}
	return COOK, val
}

// OQRead implements spec.md §4.7.7's refresh leg: a C colease already on
// the key means other cooperative readers must be bumped to ABORT before
// this session can claim the exclusive O_REF colease that backs a write.
func (e *Engine) OQRead(sid, key []byte) (COResult, *Item) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validKey(key) {
		return COInvalid, nil
	}
	if _, aborted := e.checkSessionLive(sid); aborted {
		return COAbort, nil
	}

	if !e.claimOColease(key, sid) {
		return COAbort, nil
	}

	leaseIt := e.index.Find(leaseKey(key))
	if leaseIt == nil || !leaseIt.HasQRefLease() {
		e.mintLease(key, CoQRef, nil)
	}
	e.store.assocKeySid(sid, key)

	if pv := e.store.peek(pendingKey(key)); pv != nil {
		return COOK, pv
	}
	if val := e.store.peek(key); val != nil {
		return COOK, val
	}
	return CONotFound, nil
}

// abortOtherCMembers bumps every other member of key's C colease to
// ABORT, drops them from its key-list, and unlinks the (now-retired) C
// colease, per spec.md §4.7.7's "abort other sessions holding it" rule.
func (e *Engine) abortOtherCMembers(key, keepSid []byte) {
	co := e.index.Find(coleaseKey(key))
	if co == nil || !co.HasCLease() {
		return
	}
	var others [][]byte
	keylistEach(co.Data, func(other []byte) bool {
		if string(other) != string(keepSid) {
			others = append(others, append([]byte(nil), other...))
		}
		return true
	})
	for _, other := range others {
		e.abortSession(other)
		e.store.removeEntryFromList(coleaseKey(key), other)
	}
	e.store.unlink(e.index.Find(coleaseKey(key)))
}

// claimOColease establishes sid as the exclusive O_REF colease holder for
// key: a C colease is demoted (its other members aborted per
// abortOtherCMembers) and replaced; an existing O colease must already list
// sid; an absent colease is simply created (spec.md §4.7.7's "oqwrite...
// tolerates an absent colease by creating one", generalized to also cover
// the oqread path's C-to-O transition). Reports false if sid is not (and
// cannot become) a member.
func (e *Engine) claimOColease(key, sid []byte) bool {
	co := e.index.Find(coleaseKey(key))
	switch {
	case co == nil:
		e.store.assocSidColease(key, sid, CoORef)
		return true
	case co.HasCLease():
		e.abortOtherCMembers(key, sid)
		e.store.assocSidColease(key, sid, CoORef)
		return true
	case co.IsOLease():
		if keylistCheck(co.Data, sid) {
			return true
		}
		e.abortSession(sid)
		return false
	default:
		return false
	}
}

// releaseAcquiredQRef drops the Q_REF lease OQRead minted, once the
// session's write has been staged and no longer needs the read-side guard
// (spec.md §4.7.7: "both release any Q_REF lease they acquired").
func (e *Engine) releaseAcquiredQRef(key []byte) {
	if leaseIt := e.index.Find(leaseKey(key)); leaseIt != nil && leaseIt.HasQRefLease() {
		e.store.unlink(leaseIt)
	}
}

func (e *Engine) stagePendingVersion(key, data []byte, dataFlags uint32) *Item {
	pv := newItem(e.slabs.SlabIDFor(len(data)), pendingKey(key), len(data), true)
	copy(pv.Data, data)
	pv.DataFlags = dataFlags
	pv.Flags |= FlagLeaseHolder
	pv.CoFlags = CoORef
	if existing := e.index.Find(pendingKey(key)); existing != nil {
		e.store.replace(existing, pv)
	} else {
		e.store.link(pv)
	}
	pv.setPinned()
	return pv
}

// OQWrite stages data as key's pending version under sid's session. Unlike
// OQSwap, it tolerates an absent O colease by creating one (spec.md
// §4.7.7), since a write can be the first operation a session performs
// against a key it hasn't read through OQRead.
func (e *Engine) OQWrite(sid, key, data []byte, dataFlags uint32) COResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validKey(key) {
		return COInvalid
	}
	if _, aborted := e.checkSessionLive(sid); aborted {
		return COAbort
	}

	if !e.claimOColease(key, sid) {
		return COAbort
	}

	e.stagePendingVersion(key, data, dataFlags)
	e.releaseAcquiredQRef(key)
	e.store.assocKeySid(sid, key)
	return COOK
}

// OQSwap atomically replaces key's staged pending version with data,
// rejecting the swap (COAbort) if sid is not an O colease member — the
// read/modify/write loop's membership check (spec.md §4.7.7). Unlike
// OQWrite, it requires the colease to already exist: a swap implies a
// prior OQRead/OQWrite established it.
func (e *Engine) OQSwap(sid, key, data []byte, dataFlags uint32) COResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !validKey(key) {
		return COInvalid
	}
	if _, aborted := e.checkSessionLive(sid); aborted {
		return COAbort
	}

	co := e.index.Find(coleaseKey(key))
	if co == nil || !co.IsOLease() || !keylistCheck(co.Data, sid) {
		return COAbort
	}

	e.stagePendingVersion(key, data, dataFlags)
	e.releaseAcquiredQRef(key)
	return COOK
}

// DCommit implements spec.md §4.7.7's commit leg: for every key sid has
// touched, a staged pending version (O_REF) is promoted to the live value,
// a quarantine (O_INV) value is dropped, and a read-only (C) membership
// simply expires; sid's colease/lease references are unwound in every case.
func (e *Engine) DCommit(sid []byte) COResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, aborted := e.checkSessionLive(sid)
	if aborted {
		return COAbort
	}
	if sess == nil {
		return CONotFound
	}

	keylistEach(sess.Data, func(key []byte) bool {
		co := e.index.Find(coleaseKey(key))
		switch {
		case co != nil && co.HasOInvLease():
			if val := e.store.peek(key); val != nil {
				e.store.unlink(val)
			}
		case co != nil && co.HasORefLease():
			if pv := e.index.Find(pendingKey(key)); pv != nil {
				promoted := newItem(e.slabs.SlabIDFor(len(pv.Data)), key, len(pv.Data), false)
				copy(promoted.Data, pv.Data)
				promoted.DataFlags = pv.DataFlags
				if existing := e.store.peek(key); existing != nil {
					e.store.replace(existing, promoted)
				} else {
					e.store.link(promoted)
				}
				e.store.unlink(pv)
			}
		case co != nil && co.HasCLease():
			if val := e.store.peek(key); val != nil {
				val.Exptime = 0
			}
		}
		if leaseIt := e.index.Find(leaseKey(key)); leaseIt != nil && leaseIt.IsQLease() {
			e.store.unlink(leaseIt)
		}
		e.store.removeEntryFromList(coleaseKey(key), sid)
		if pv := e.index.Find(pendingKey(key)); pv != nil {
			e.store.unlink(pv)
		}
		return true
	})

	e.cleanSession(sid, sess, SessAlive)
	return COOK
}

// Validate implements spec.md §4.7.7's standalone membership check: every
// key sid has touched must still list sid as a colease holder, checked
// while the session item is still pinned — the Go port iterates the
// session's key-list before dropping the caller's own handle on it, rather
// than after, so validity never depends on refcount-vs-pin ordering (see
// DESIGN.md's recorded Open Question decision on item_validate).
func (e *Engine) Validate(sid []byte) COResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, aborted := e.checkSessionLive(sid)
	if aborted {
		return COAbort
	}
	if sess == nil {
		return CONotFound
	}

	valid := true
	keylistEach(sess.Data, func(key []byte) bool {
		co := e.index.Find(coleaseKey(key))
		if co == nil || !keylistCheck(co.Data, sid) {
			valid = false
			return false
		}
		return true
	})

	if !valid {
		e.cleanSession(sid, sess, SessAbort)
		return COAbort
	}
	return COOK
}

// CoUnlease implements spec.md §4.7.7's unconditional rollback leg: discard
// every lease, colease membership, and pending version sid holds, without
// promoting anything to the live value. The per-key cleanup is cleanSession's
// own walk — CoUnlease just finalizes the session as aborted.
func (e *Engine) CoUnlease(sid []byte) COResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.index.Find(sid)
	if sess == nil {
		return CONotFound
	}

	e.cleanSession(sid, sess, SessAbort)
	return COOK
}

// cleanSession finalizes a session descriptor: for every key the session
// touched whose colease still lists sid, unlinks that key's Q-lease, strips
// sid from that key's colease (unlinking the colease if it's now empty), and
// unlinks that key's pending version; keys whose colease no longer lists sid
// (another session took the key over) are left alone. Then it unpins and
// unlinks the session item itself, counting the outcome by the status it
// finalized with. Grounded on original_source/IQ-Twemcached's
// clean_session (mc_items.c:2214-2260), which runs this walk
// unconditionally regardless of which path reached it (including from
// item_validate, mc_items.c:3358-3403, which calls clean_session without
// first flipping sess_status to ABORT); the walk is idempotent against a
// caller (DCommit) that already unlinked some of these entries itself, so
// running it here unconditionally is safe. The C implementation also
// unconditionally drops the global lock a second time when the session was
// already in ABORT state — a stray unlock with no correct analogue once the
// lock is taken once at the façade boundary (see DESIGN.md's recorded Open
// Question decision); the Go port simply counts the two paths separately
// and never double-unlocks.
func (e *Engine) cleanSession(sid []byte, sess *Item, status SessStatus) {
	keylistEach(sess.Data, func(key []byte) bool {
		if co := e.index.Find(coleaseKey(key)); co == nil || !keylistCheck(co.Data, sid) {
			return true
		}
		if leaseIt := e.index.Find(leaseKey(key)); leaseIt != nil && leaseIt.IsQLease() {
			e.store.unlink(leaseIt)
		}
		e.store.removeEntryFromList(coleaseKey(key), sid)
		if pv := e.index.Find(pendingKey(key)); pv != nil {
			e.store.unlink(pv)
		}
		return true
	})

	if sess.SessStatus == SessAbort {
		if e.metrics != nil {
			e.metrics.SessAbort.Inc()
		}
	} else if e.metrics != nil {
		e.metrics.SessUnlease.Inc()
	}
	sess.SessStatus = status
	sess.unsetPinned()
	e.store.unlink(sess)
}
