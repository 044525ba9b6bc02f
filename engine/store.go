package engine

// store is the item store (spec.md §4.2): CRUD + touch + replace +
// cache-dump over the associative index and LRU registry, with
// refcounting and eviction. Grounded on the teacher's cache.go (Set/Get/
// deleteExpired) generalized from a single map+list pair to the
// index+LRU-registry composition, and on
// original_source/IQ-Twemcached/src/mc_items.c's _item_alloc/_item_link/
// _item_unlink/_item_get/item_flush_expired for the exact allocation
// fallback ladder and lazy-expiry checks.
type store struct {
	index      Index
	lru        *lruRegistry
	slabs      SlabAllocator
	clock      Clock
	metrics    *Metrics
	casCounter uint64
	casEnabled bool
	oldestLive int64
	evictOnLRU bool
}

func newStore(index Index, lru *lruRegistry, slabs SlabAllocator, clock Clock, metrics *Metrics, casEnabled, evictOnLRU bool) *store {
	return &store{
		index:      index,
		lru:        lru,
		slabs:      slabs,
		clock:      clock,
		metrics:    metrics,
		casEnabled: casEnabled,
		evictOnLRU: evictOnLRU,
	}
}

// nextCas assigns the next monotonic CAS value, or 0 if CAS is disabled
// globally (spec.md §3.1).
func (s *store) nextCas() uint64 {
	if !s.casEnabled {
		return 0
	}
	s.casCounter++
	return s.casCounter
}

// alloc implements the ordered allocation policy of spec.md §4.2: reuse an
// expired item, else request a fresh chunk, else (if LRU eviction is
// enabled) reuse the first unexpired candidate, else ask the slab
// interface to evict a slab, else fail.
func (s *store) alloc(slabID int, key []byte, dataFlags uint32, exptime int64, nbyte int, reserved bool) *Item {
	if expired := s.lru.findReusable(slabID, reserved); expired != nil {
		now := s.clock.Now()
		if expired.Expired(now) {
			s.reclaimExpired(expired)
			return s.materialize(slabID, key, dataFlags, exptime, nbyte, reserved)
		}
	}

	if reserved {
		if s.slabs.GetReservedItem(slabID, false) {
			return s.materialize(slabID, key, dataFlags, exptime, nbyte, reserved)
		}
	} else if s.slabs.GetItem(slabID) {
		return s.materialize(slabID, key, dataFlags, exptime, nbyte, reserved)
	}

	if s.evictOnLRU {
		if candidate := s.lru.findReusable(slabID, reserved); candidate != nil {
			s.reclaimForEviction(candidate)
			return s.materialize(slabID, key, dataFlags, exptime, nbyte, reserved)
		}
	}

	var got bool
	if reserved {
		got = s.slabs.GetReservedItemByEvictSlab(slabID)
	} else {
		got = s.slabs.GetItemByEvictSlab(slabID)
	}
	if got {
		return s.materialize(slabID, key, dataFlags, exptime, nbyte, reserved)
	}

	panic(errSlabExhausted(slabID))
}

func (s *store) allocReserved(slabID int, key []byte, nbyte int) *Item {
	return s.alloc(slabID, key, 0, 0, nbyte, true)
}

func (s *store) materialize(slabID int, key []byte, dataFlags uint32, exptime int64, nbyte int, reserved bool) *Item {
	it := newItem(slabID, key, nbyte, reserved)
	it.DataFlags = dataFlags
	it.Exptime = exptime
	return it
}

// reclaimExpired dispatches expired-lease subtype accounting against the
// item's coflags before reuse (spec.md §4.2), then unlinks it. The source
// (mc_items.c:404-413) dereferences the lease item's coflags *after*
// _item_unlink/_item_remove, relying on refcount keeping the struct alive;
// the Go port reads coflags first since there is no manual free to race
// against (see DESIGN.md Open Question 4).
func (s *store) reclaimExpired(it *Item) {
	if s.metrics != nil {
		s.metrics.ExpiredTotal.Inc()
		switch {
		case it.HasILease():
			s.metrics.ExpiredILeases.Inc()
		case it.HasQInvLease():
			s.metrics.ExpiredQLeases.Inc()
		case it.HasQRefLease(), it.HasQIncrLease():
			s.metrics.ExpiredQLeases.Inc()
		case it.HasCLease():
			s.metrics.ExpiredCLeases.Inc()
		case it.HasOInvLease(), it.HasORefLease():
			s.metrics.ExpiredOLeases.Inc()
		}
	}
	it.unsetPinned()
	s.unlink(it)
}

func (s *store) reclaimForEviction(it *Item) {
	if s.metrics != nil {
		s.metrics.Evictions.Inc()
	}
	it.unsetPinned()
	s.unlink(it)
}

// link assigns cas, sets LINKED, inserts into the index, and link_tails in
// the LRU (spec.md §4.2).
func (s *store) link(it *Item) {
	it.Cas = s.nextCas()
	it.Flags |= FlagLinked
	s.index.Insert(it)
	s.lru.linkTail(it, true)
}

// unlink clears the pinned bit for lease/colease/ptrans/hotkey items, and
// if still LINKED, removes it from the index and LRU, freeing it once
// refcount reaches zero.
func (s *store) unlink(it *Item) {
	if it.Flags&(FlagLeaseHolder|FlagSessionHolder|FlagPTransHolder|FlagHotkey) != 0 {
		it.unsetPinned()
	}
	if it.IsLinked() {
		it.Flags &^= FlagLinked
		s.index.Delete(it.Key)
		s.lru.unlink(it)
	}
	s.maybeFree(it)
}

func (s *store) maybeFree(it *Item) {
	if it.Refcount == 0 && !it.IsLinked() {
		if it.reserved {
			s.slabs.PutReservedItem(it.SlabID, false)
		} else {
			s.slabs.PutItem(it.SlabID)
		}
	}
}

// touch re-enqueues the item at the tail of its LRU if the update interval
// has elapsed (spec.md §4.1).
func (s *store) touch(it *Item) {
	s.lru.touch(it)
}

// replace performs unlink(old); link(new) atomically under the caller's
// hold of the global lock (spec.md §4.2).
func (s *store) replace(old, new *Item) {
	s.unlink(old)
	s.link(new)
}

// remove decrements refcount, freeing the item if it is unlinked and the
// refcount has reached zero (spec.md §4.2, §5 refcount discipline).
func (s *store) remove(it *Item) {
	if it.Refcount > 0 {
		it.Refcount--
	}
	s.maybeFree(it)
}

// get performs an associative lookup with lazy expiry: an item past its
// exptime, or whose atime predates oldestLive, is unlinked and treated as a
// miss. A successful lookup increments refcount once for the caller, who
// must later call remove (spec.md §4.2, §5).
func (s *store) get(key []byte) *Item {
	it := s.index.Find(key)
	if it == nil {
		return nil
	}
	now := s.clock.Now()
	if it.Expired(now) {
		s.reclaimExpired(it)
		return nil
	}
	if s.oldestLive != 0 && it.Atime <= s.oldestLive {
		s.unlink(it)
		return nil
	}
	it.Refcount++
	return it
}

// peek is like get but does not perform lazy expiry or take a refcount; it
// is used by read paths that need to inspect an item's presence (e.g. lease
// lookups) without the allocation-path side effects of get.
func (s *store) peek(key []byte) *Item {
	return s.index.Find(key)
}

// flushExpired iterates each queue from tail toward head (queues are
// time-sorted ascending atime, so the tail holds the most recent entries)
// and unlinks items whose atime is at or after oldestLive, stopping at the
// first item whose atime predates it (spec.md §4.2). It is a no-op while no
// boundary is set (oldestLive == 0), the same condition get checks.
func (s *store) flushExpired() {
	if s.oldestLive == 0 {
		return
	}
	for slabID := range s.lru.regular {
		s.flushQueueExpired(slabID, false)
	}
	for slabID := range s.lru.reserved {
		s.flushQueueExpired(slabID, true)
	}
}

func (s *store) flushQueueExpired(slabID int, reserved bool) {
	q := s.lru.queue(slabID, reserved)
	for e := q.Back(); e != nil; {
		it := e.Value.(*Item)
		if it.Atime < s.oldestLive {
			return
		}
		prev := e.Prev()
		s.unlink(it)
		e = prev
	}
}
