package engine

import (
	"sort"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// SlabInvalidID is returned by SlabIDFor when no class fits total bytes.
const SlabInvalidID = -1

// SlabAllocator is the external collaborator contract of spec.md §4.4. The
// core only ever reaches it through this interface — chunking, the free
// list, and slab eviction policy live entirely on the other side.
type SlabAllocator interface {
	SlabIDFor(totalBytes int) int
	GetItem(slabID int) bool
	GetReservedItem(slabID int, lockSlab bool) bool
	GetItemByEvictSlab(slabID int) bool
	GetReservedItemByEvictSlab(slabID int) bool
	PutItem(slabID int)
	PutReservedItem(slabID int, lockSlab bool)
	AcquireRefcount(slabID int)
	ReleaseRefcount(slabID int)
	LRUQTouch(slabID int, allocated bool)
	LRUQTouchReserved(slabID int, allocated bool)
}

// defaultSlabAllocator is a reference in-process implementation: each class
// is a bounded counter standing in for a real fixed-size chunk pool. It
// exists so the engine is runnable standalone (the real slab subsystem is
// out of scope per spec.md §1); its capacities model scarcity so the item
// store's eviction fallback ladder (spec.md §4.2) has something to exercise.
type defaultSlabAllocator struct {
	classes  []int // ascending chunk capacities, in bytes
	capacity map[int]int
	used     map[int]int
	sf       singleflight.Group
	metrics  *Metrics
}

// newDefaultSlabAllocator builds a memcached-style growth-factor class
// table (grounded on original_source/IQ-Twemcached/src/mc_items.c's
// slabclass sizing), each class given the same capacity.
func newDefaultSlabAllocator(perClassCapacity int, metrics *Metrics) *defaultSlabAllocator {
	const (
		minChunk = 64
		maxChunk = 1 << 20
		factor   = 1.25
	)
	classes := make([]int, 0, 40)
	for size := float64(minChunk); int(size) < maxChunk; size *= factor {
		classes = append(classes, int(size))
	}
	classes = append(classes, maxChunk) // guarantee a class that exactly covers the largest payload
	capacity := make(map[int]int, len(classes))
	used := make(map[int]int, len(classes))
	for i := range classes {
		capacity[i+1] = perClassCapacity
		used[i+1] = 0
	}
	return &defaultSlabAllocator{classes: classes, capacity: capacity, used: used, metrics: metrics}
}

func (a *defaultSlabAllocator) SlabIDFor(totalBytes int) int {
	idx := sort.SearchInts(a.classes, totalBytes)
	if idx == len(a.classes) {
		return SlabInvalidID
	}
	return idx + 1
}

func (a *defaultSlabAllocator) GetItem(slabID int) bool {
	return a.tryReserve(slabID)
}

func (a *defaultSlabAllocator) GetReservedItem(slabID int, lockSlab bool) bool {
	return a.tryReserve(slabID)
}

// GetItemByEvictSlab and GetReservedItemByEvictSlab model "evict a whole
// slab of this class to free a chunk": deduped via singleflight so N
// concurrent misses against the same exhausted class collapse into one
// eviction scan, per SPEC_FULL.md's DOMAIN STACK note. This does not
// introduce a suspension point under cache_lock (spec.md §5): the
// singleflight call only coordinates which goroutine performs the
// (synchronous, non-blocking) bookkeeping below, it never waits on I/O.
func (a *defaultSlabAllocator) GetItemByEvictSlab(slabID int) bool {
	_, _, _ = a.sf.Do(slabKeyFor(slabID), func() (interface{}, error) {
		if a.used[slabID] > 0 {
			a.used[slabID]--
		}
		return nil, nil
	})
	return a.tryReserve(slabID)
}

func (a *defaultSlabAllocator) GetReservedItemByEvictSlab(slabID int) bool {
	return a.GetItemByEvictSlab(slabID)
}

func (a *defaultSlabAllocator) PutItem(slabID int) {
	if a.used[slabID] > 0 {
		a.used[slabID]--
	}
}

func (a *defaultSlabAllocator) PutReservedItem(slabID int, lockSlab bool) {
	a.PutItem(slabID)
}

func (a *defaultSlabAllocator) AcquireRefcount(slabID int) {}
func (a *defaultSlabAllocator) ReleaseRefcount(slabID int) {}

func (a *defaultSlabAllocator) LRUQTouch(slabID int, allocated bool) {
	if a.metrics != nil {
		a.metrics.LRUQTouches.WithLabelValues("regular").Inc()
	}
}

func (a *defaultSlabAllocator) LRUQTouchReserved(slabID int, allocated bool) {
	if a.metrics != nil {
		a.metrics.LRUQTouches.WithLabelValues("reserved").Inc()
	}
}

func (a *defaultSlabAllocator) tryReserve(slabID int) bool {
	if a.used[slabID] >= a.capacity[slabID] {
		return false
	}
	a.used[slabID]++
	return true
}

func slabKeyFor(slabID int) string {
	return "slab:" + strconv.Itoa(slabID)
}
