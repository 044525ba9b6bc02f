package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Engine is the operation façade (spec.md §2(8)): the single context value
// wiring the item store, LRU registry, lease engine, and lock, constructed
// once at startup and passed by reference to every operation (spec.md §9).
// Grounded on the teacher's Cache struct (cache.go) and constructor
// (functional options, ticker-driven janitor), generalized from a single
// map+list cache to the full component graph.
type Engine struct {
	mu    sync.Mutex // cache_lock: guards the index, LRU queues, item fields, CAS counter, lease-token counter
	cfgMu sync.Mutex // configuration_lock: guards epoch-tied configuration transitions, never held with mu

	store *store
	lru   *lruRegistry
	index Index
	slabs SlabAllocator
	clock Clock

	leaseTokens  leaseTokenGen
	configNumber uint32

	metrics *Metrics
	log     zerolog.Logger

	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures an Engine, the same functional-options pattern as the
// teacher's options.go.
type Option func(*engineConfig)

type engineConfig struct {
	clock            Clock
	casEnabled       bool
	evictOnLRU       bool
	perClassCapacity int
	registerer       prometheus.Registerer
	logger           zerolog.Logger
	cleanupInterval  time.Duration
}

// WithClock overrides the time source; tests use this to inject a fakeClock.
func WithClock(c Clock) Option {
	return func(cfg *engineConfig) { cfg.clock = c }
}

// WithCAS enables or disables CAS assignment globally (spec.md §3.1: cas ==
// 0 iff CAS is disabled).
func WithCAS(enabled bool) Option {
	return func(cfg *engineConfig) { cfg.casEnabled = enabled }
}

// WithLRUEviction toggles whether alloc's step 3 (reuse the first
// unexpired LRU candidate) is enabled, versus always falling through to
// slab eviction (spec.md §4.2).
func WithLRUEviction(enabled bool) Option {
	return func(cfg *engineConfig) { cfg.evictOnLRU = enabled }
}

// WithSlabClassCapacity bounds how many chunks each slab class can hold in
// the default in-process slab allocator, simulating scarcity.
func WithSlabClassCapacity(n int) Option {
	return func(cfg *engineConfig) { cfg.perClassCapacity = n }
}

// WithMetricsRegisterer registers the engine's counters against reg instead
// of a private, unregistered registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *engineConfig) { cfg.registerer = reg }
}

// WithLogger overrides the zerolog.Logger used for façade-boundary logging.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *engineConfig) { cfg.logger = l }
}

// WithCleanupInterval enables the background sweeper (engine.go's
// startSweeper, mirroring the teacher's startJanitor) at the given period.
// If unset or <= 0, the engine relies solely on lazy expiry, same as the
// teacher's "janitor will not run" behavior when no interval is configured.
func WithCleanupInterval(d time.Duration) Option {
	return func(cfg *engineConfig) { cfg.cleanupInterval = d }
}

// New constructs an Engine with the default in-process slab allocator and
// associative index, applies opts, and starts the background sweeper if
// configured — the same five-step initialization shape as the teacher's
// New() in cache.go.
func New(opts ...Option) *Engine {
	cfg := &engineConfig{
		clock:            systemClock{},
		casEnabled:       true,
		evictOnLRU:       true,
		perClassCapacity: 1 << 16,
		logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	metrics := NewMetrics(cfg.registerer)
	index := newMapIndex()
	slabs := newDefaultSlabAllocator(cfg.perClassCapacity, metrics)
	lru := newLRURegistry(cfg.clock, slabs, metrics)
	st := newStore(index, lru, slabs, cfg.clock, metrics, cfg.casEnabled, cfg.evictOnLRU)

	e := &Engine{
		store:    st,
		lru:      lru,
		index:    index,
		slabs:    slabs,
		clock:    cfg.clock,
		metrics:  metrics,
		log:      cfg.logger,
		interval: cfg.cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	e.startSweeper()
	return e
}

// startSweeper launches the background expiration worker, mirroring the
// teacher's janitor.go ticker/stopChan shape exactly, calling
// store.flushExpired in place of deleteExpired. Each tick applies only the
// flush_all boundary set by SetOldestLive; items past their exptime are
// still reclaimed lazily.
func (e *Engine) startSweeper() {
	if e.interval <= 0 {
		return
	}
	ticker := time.NewTicker(e.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				e.mu.Lock()
				e.store.flushExpired()
				e.mu.Unlock()
			case <-e.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop gracefully terminates the background sweeper goroutine. Safe to
// call multiple times (unlike the teacher's Stop, which panics on a second
// close).
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// SetOldestLive sets the flush_all boundary (spec.md §4.2); items with
// atime >= the boundary are proactively flushed by FlushExpired, and items
// with atime <= the boundary are lazily expired on Get thereafter. Guarded
// by configurationLock since it is an epoch-tied configuration transition.
func (e *Engine) SetOldestLive(seconds int64) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.oldestLive = seconds
}

// FlushExpired runs the store's active-expiration sweep once under the
// global lock (spec.md §4.2, §8 property 7: idempotent).
func (e *Engine) FlushExpired() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.flushExpired()
}

// CacheDump implements spec.md §4.1's cache-dump format.
func (e *Engine) CacheDump(slabID int, limit int) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lru.cacheDump(slabID, limit)
}

// validKey enforces spec.md §6's key-length constraint: 1 <= nkey <= 250.
func validKey(key []byte) bool {
	return len(key) > 0 && len(key) <= KeyMaxLen
}
