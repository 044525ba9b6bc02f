package engine

// Keyspace partitioning (spec.md §3.2): the engine multiplexes several
// logical items per user key by prefixing the associative key with a short
// fixed-length tag. Session and transaction descriptors are stored under
// their own id verbatim (no prefix).
const (
	prefixLease    = 'L'
	prefixPending  = 'V' // pending-version
	prefixMarker   = 'P' // pending-marker
	prefixColease  = 'O'
	prefixPTrans   = 'T'
)

func leaseKey(key []byte) []byte   { return taggedKey(prefixLease, key) }
func pendingKey(key []byte) []byte { return taggedKey(prefixPending, key) }
func markerKey(key []byte) []byte  { return taggedKey(prefixMarker, key) }
func coleaseKey(key []byte) []byte { return taggedKey(prefixColease, key) }
func ptransKey(key []byte) []byte  { return taggedKey(prefixPTrans, key) }

func taggedKey(tag byte, key []byte) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, tag)
	out = append(out, key...)
	return out
}

// assocAddEntry re-materializes a reserved key-list container (transaction,
// session colease, ptrans...) per spec.md §4.8: given the possibly-present
// container item at containerKey, allocate a new reserved item sized to
// include entry, copy the previous key-list and append, then store it back
// under the same associative key. The old container (if any) is replaced
// in-place under the global lock. Returns the new container item.
//
// Because the codec itself does not dedupe, assocAddEntry checks membership
// (keylistCheck) first and returns the existing container unchanged when
// entry is already listed.
func (s *store) assocAddEntry(containerKey []byte, entry []byte, newRole func(*Item)) *Item {
	old := s.index.Find(containerKey)
	var prior []byte
	if old != nil {
		prior = old.Data
	}
	if keylistCheck(prior, entry) {
		return old
	}
	newList := keylistAddKey(prior, entry)
	slabID := s.slabs.SlabIDFor(len(newList))
	item := s.allocReserved(slabID, containerKey, len(newList))
	copy(item.Data, newList)
	if newRole != nil {
		newRole(item)
	}
	if old != nil {
		s.replace(old, item)
	} else {
		s.link(item)
		item.setPinned()
	}
	return item
}

// removeEntryFromList is the mirror of assocAddEntry (spec.md §4.8): remove
// entry from the container at containerKey. If the container becomes empty
// it is unlinked and unpinned rather than replaced with an empty item.
func (s *store) removeEntryFromList(containerKey []byte, entry []byte) {
	old := s.index.Find(containerKey)
	if old == nil {
		return
	}
	newList, ok := keylistRmvKey(old.Data, entry)
	if !ok {
		return
	}
	if keylistEmpty(newList) {
		old.unsetPinned()
		s.unlink(old)
		return
	}
	slabID := s.slabs.SlabIDFor(len(newList))
	item := s.allocReserved(slabID, containerKey, len(newList))
	copy(item.Data, newList)
	item.Flags = old.Flags
	item.CoFlags = old.CoFlags
	item.SessStatus = old.SessStatus
	s.replace(old, item)
	item.setPinned()
}

// assocKeyTid adds key to the transaction tid's touched-key list,
// materializing the transaction item if it doesn't exist yet.
// Tagged FlagPTransHolder rather than assocKeySid's FlagSessionHolder; the
// two flags are only ever OR'd together in store.unlink's pin-clear check,
// so today they're interchangeable, but keep them distinct in case a future
// change needs to tell transaction-holder items and session-holder items apart.
func (s *store) assocKeyTid(tid []byte, key []byte) *Item {
	return s.assocAddEntry(tid, key, func(it *Item) {
		it.Flags |= FlagPTransHolder
	})
}

// assocKeySid adds key to session sid's touched-key list.
func (s *store) assocKeySid(sid []byte, key []byte) *Item {
	return s.assocAddEntry(sid, key, func(it *Item) {
		it.Flags |= FlagSessionHolder
	})
}

// assocSidColease adds sid to the colease at coleaseKey(key).
func (s *store) assocSidColease(key []byte, sid []byte, subtype CoFlags) *Item {
	return s.assocAddEntry(coleaseKey(key), sid, func(it *Item) {
		it.Flags |= FlagLeaseHolder
		it.CoFlags = subtype
	})
}

// assocTidLease adds tid to the Q_INV lease's key-list of referencing
// transaction ids at leaseKey(key) (spec.md §3.3's Q_INV value shape).
func (s *store) assocTidLease(key []byte, tid []byte) *Item {
	return s.assocAddEntry(leaseKey(key), tid, func(it *Item) {
		it.Flags |= FlagLeaseHolder
		it.CoFlags = CoQInv
	})
}

// assocTidPtrans adds tid to the ptrans list for key.
func (s *store) assocTidPtrans(key []byte, tid []byte) *Item {
	return s.assocAddEntry(ptransKey(key), tid, func(it *Item) {
		it.Flags |= FlagPTransHolder
	})
}
