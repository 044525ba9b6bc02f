package engine

import "math"

// LeaseHotmiss is the reserved sentinel token signaling "try again later"
// (spec.md §4.5). It is distinct from anything leaseTokenGen can produce:
// the generator is a monotonic counter starting at 1, and no real run
// mints anywhere near math.MaxUint64 tokens.
const LeaseHotmiss uint64 = math.MaxUint64

// leaseTokenGen is a 64-bit counter, monotonically increasing, never
// reused, never zero.
type leaseTokenGen struct {
	counter uint64
}

func (g *leaseTokenGen) next() uint64 {
	g.counter++
	return g.counter
}
