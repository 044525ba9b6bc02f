package engine

import (
	"bytes"
	"container/list"
	"fmt"
)

// ItemLRUQMaxTries bounds the find_reusable scan (spec.md §4.1).
const ItemLRUQMaxTries = 50

// ItemUpdateInterval is the touch coalescing window (spec.md §4.1):
// touch(item) is a no-op if now - atime is smaller than this.
const ItemUpdateInterval = 60

// cacheDumpCap bounds cache_dump's total output (spec.md §4.1).
const cacheDumpCap = 2 << 20 // 2 MiB

// lruRegistry maintains two arrays of intrusive doubly-linked sequences
// indexed by slab class: one for regular items, one for reserved items.
// Grounded on the teacher's cache.go/eviction.go (container/list,
// PushFront/MoveToFront/Back/Remove), generalized from a single global list
// to per-slab-class regular+reserved lists and from MRU-front ordering to
// the spec's oldest-at-head/newest-at-tail convention (link_tail appends,
// find_reusable scans from the head).
type lruRegistry struct {
	regular  map[int]*list.List
	reserved map[int]*list.List
	clock    Clock
	slabs    SlabAllocator
	metrics  *Metrics
}

func newLRURegistry(clock Clock, slabs SlabAllocator, metrics *Metrics) *lruRegistry {
	return &lruRegistry{
		regular:  make(map[int]*list.List),
		reserved: make(map[int]*list.List),
		clock:    clock,
		slabs:    slabs,
		metrics:  metrics,
	}
}

func (r *lruRegistry) queueFor(it *Item) *list.List {
	return r.queue(it.SlabID, it.reserved)
}

func (r *lruRegistry) queue(slabID int, reserved bool) *list.List {
	m := r.regular
	if reserved {
		m = r.reserved
	}
	q, ok := m[slabID]
	if !ok {
		q = list.New()
		m[slabID] = q
	}
	return q
}

// linkTail stamps atime=now, inserts at the tail of the item's queue, and
// notifies the slab interface so it can bias eviction by access policy
// (spec.md §4.1).
func (r *lruRegistry) linkTail(it *Item, allocated bool) {
	it.Atime = r.clock.Now()
	q := r.queueFor(it)
	it.lruElem = q.PushBack(it)
	if it.reserved {
		r.slabs.LRUQTouchReserved(it.SlabID, allocated)
	} else {
		r.slabs.LRUQTouch(it.SlabID, allocated)
	}
}

func (r *lruRegistry) unlink(it *Item) {
	if it.lruElem == nil {
		return
	}
	r.queueFor(it).Remove(it.lruElem)
	it.lruElem = nil
}

// touch re-enqueues at the tail if enough time has elapsed since the last
// update; otherwise it is a no-op (spec.md §4.1).
func (r *lruRegistry) touch(it *Item) {
	now := r.clock.Now()
	if now-it.Atime < ItemUpdateInterval {
		return
	}
	r.unlink(it)
	it.Atime = now
	q := r.queueFor(it)
	it.lruElem = q.PushBack(it)
}

// findReusable scans at most ItemLRUQMaxTries items from the head of the
// requested queue. An expired item wins immediately; otherwise the first
// item with refcount zero is returned as the LRU fallback candidate. A
// pinned reserved item (refcount==1, held solely by its own pin) is
// considered free only when the request targets the reserved queue.
func (r *lruRegistry) findReusable(slabID int, reserved bool) *Item {
	q := r.queue(slabID, reserved)
	now := r.clock.Now()
	var fallback *Item
	tries := 0
	for e := q.Front(); e != nil && tries < ItemLRUQMaxTries; e, tries = e.Next(), tries+1 {
		it := e.Value.(*Item)
		if it.Expired(now) {
			r.observeScanLen(tries + 1)
			return it
		}
		if reserved && it.IsPinned() && it.Refcount == 1 {
			if fallback == nil {
				fallback = it
			}
			continue
		}
		if it.Refcount != 0 {
			continue
		}
		if fallback == nil {
			fallback = it
		}
	}
	r.observeScanLen(tries)
	return fallback
}

// observeScanLen records how many items find_reusable inspected before
// returning, per SPEC_FULL.md's DOMAIN STACK note on making "scanned N of
// 50 tries" observable the way a production slab subsystem would want.
func (r *lruRegistry) observeScanLen(n int) {
	if r.metrics != nil {
		r.metrics.LRUScanLen.Observe(float64(n))
	}
}

// cacheDump walks the regular queue from head to tail, producing up to
// limit lines, capped at cacheDumpCap total bytes (spec.md §4.1). Truncation
// is silent, matching the source.
func (r *lruRegistry) cacheDump(slabID int, limit int) []byte {
	q, ok := r.regular[slabID]
	var buf bytes.Buffer
	if ok {
		count := 0
		for e := q.Front(); e != nil && (limit <= 0 || count < limit); e = e.Next() {
			it := e.Value.(*Item)
			line := fmt.Sprintf("ITEM %s [%d b; %d s]\r\n", it.Key, len(it.Data), it.Exptime)
			if buf.Len()+len(line)+len("END\r\n") > cacheDumpCap {
				break
			}
			buf.WriteString(line)
			count++
		}
	}
	buf.WriteString("END\r\n")
	return buf.Bytes()
}
