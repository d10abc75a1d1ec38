// Package cache implements the permission cache: an in-memory, size- and
// time-bounded store of ALLOW/DENY decisions keyed by source→target origin
// pairs.
//
// A hash index paired with an access-ordered list gives O(1) lookup, O(1)
// recency promotion and O(1) eviction of the least-recently-used entry.
// Writes schedule a debounced durable flush; store failures degrade the
// cache to in-memory-only operation and are never surfaced to Lookup or
// Record callers.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/infrastructure/monitoring"
	"github.com/navguard/navguard/internal/infrastructure/resilience"
	"github.com/navguard/navguard/internal/origin"
	"github.com/navguard/navguard/internal/store"
)

// Decision is a resolved permission.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionDeny  Decision = "DENY"
)

// Valid reports whether the decision is one of the two known values.
func (d Decision) Valid() bool {
	return d == DecisionAllow || d == DecisionDeny
}

// Entry is one cached permission.
type Entry struct {
	Decision   Decision          `json:"decision"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	LastAccess time.Time         `json:"last_access"`
	Persistent bool              `json:"persistent"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the entry is past its expiry.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// valid checks the schema invariants of a restored entry.
func (e Entry) valid() bool {
	return e.Decision.Valid() && !e.CreatedAt.IsZero() && e.ExpiresAt.After(e.CreatedAt)
}

// Options configures a Cache.
type Options struct {
	MaxEntries    int
	SessionTTL    time.Duration
	PersistentTTL time.Duration
	FlushDebounce time.Duration
	PurgeInterval time.Duration
	// StoreKey is the durable-store key holding the snapshot record.
	StoreKey string
}

// DefaultOptions returns the standard cache bounds.
func DefaultOptions() Options {
	return Options{
		MaxEntries:    500,
		SessionTTL:    24 * time.Hour,
		PersistentTTL: 30 * 24 * time.Hour,
		FlushDebounce: 2 * time.Second,
		PurgeInterval: 5 * time.Minute,
		StoreKey:      "permissions",
	}
}

// RecordOptions qualifies one Record call.
type RecordOptions struct {
	Persistent bool
	Metadata   map[string]string
}

// Stats counts cache activity since startup.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
	Expired       uint64 `json:"expired"`
	DroppedOnLoad uint64 `json:"dropped_on_load"`
	FlushFailures uint64 `json:"flush_failures"`
	Size          int    `json:"size"`
}

type node struct {
	key   string
	entry Entry
}

// Cache is the permission cache. All mutating operations (insert, evict,
// promote) happen atomically under one lock, so a read scheduled between
// two handlers never observes a half-applied state.
type Cache struct {
	mu    sync.Mutex
	index map[string]*list.Element
	order *list.List // front is most-recently-used

	opts    Options
	durable store.Store // nil means in-memory only
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
	log     *logging.Logger

	dirty      bool
	flushTimer *time.Timer
	stats      Stats

	stopPurge chan struct{}
	closeOnce sync.Once

	now func() time.Time
}

// New creates a permission cache. A nil store keeps the cache in-memory
// only; the periodic expiry purge starts immediately.
func New(opts Options, durable store.Store, log *logging.Logger) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions().MaxEntries
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultOptions().SessionTTL
	}
	if opts.PersistentTTL <= 0 {
		opts.PersistentTTL = DefaultOptions().PersistentTTL
	}
	if opts.FlushDebounce <= 0 {
		opts.FlushDebounce = DefaultOptions().FlushDebounce
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = DefaultOptions().PurgeInterval
	}
	if opts.StoreKey == "" {
		opts.StoreKey = DefaultOptions().StoreKey
	}

	c := &Cache{
		index:     make(map[string]*list.Element),
		order:     list.New(),
		opts:      opts,
		durable:   durable,
		breaker:   resilience.New("permission-store", resilience.Settings{}),
		log:       log.Named("cache"),
		stopPurge: make(chan struct{}),
		now:       time.Now,
	}

	go c.purgeLoop()
	return c
}

// SetMetrics attaches Prometheus collectors; hits, misses, evictions,
// expiry, size and flush outcomes are reported from then on. Call before
// serving traffic.
func (c *Cache) SetMetrics(m *monitoring.Metrics) {
	c.mu.Lock()
	c.metrics = m
	m.CacheSize.Set(float64(c.order.Len()))
	c.mu.Unlock()
}

// Lookup returns the cached entry for a source→target origin pair. Expired
// entries are purged on sight and reported as absent. A hit promotes the
// entry to most-recently-used.
func (c *Cache) Lookup(sourceOrigin, targetOrigin string) (Entry, bool) {
	key := origin.Key(sourceOrigin, targetOrigin)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		c.stats.Misses++
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		return Entry{}, false
	}

	n := elem.Value.(*node)
	now := c.now()
	if n.entry.Expired(now) {
		c.removeLocked(elem)
		c.stats.Expired++
		c.stats.Misses++
		if c.metrics != nil {
			c.metrics.CacheExpired.Inc()
			c.metrics.CacheMisses.Inc()
			c.metrics.CacheSize.Set(float64(c.order.Len()))
		}
		c.markDirtyLocked()
		return Entry{}, false
	}

	n.entry.LastAccess = now
	c.order.MoveToFront(elem)
	c.stats.Hits++
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	return n.entry, true
}

// Record stores a decision for a source→target origin pair and schedules a
// debounced durable flush. O(1) amortized; never returns an error.
func (c *Cache) Record(sourceOrigin, targetOrigin string, decision Decision, opts RecordOptions) {
	if !decision.Valid() {
		return
	}

	now := c.now()
	ttl := c.opts.SessionTTL
	if opts.Persistent {
		ttl = c.opts.PersistentTTL
	}
	entry := Entry{
		Decision:   decision,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastAccess: now,
		Persistent: opts.Persistent,
		Metadata:   opts.Metadata,
	}
	key := origin.Key(sourceOrigin, targetOrigin)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		elem.Value.(*node).entry = entry
		c.order.MoveToFront(elem)
	} else {
		c.index[key] = c.order.PushFront(&node{key: key, entry: entry})
		c.enforceBoundLocked(now)
	}

	if c.metrics != nil {
		c.metrics.CacheSize.Set(float64(c.order.Len()))
	}
	c.markDirtyLocked()
}

// PurgeExpired removes every expired entry and returns how many were purged.
func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := c.purgeExpiredLocked(c.now())
	if purged > 0 {
		c.markDirtyLocked()
	}
	return purged
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.order.Len()
	return s
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index = make(map[string]*list.Element)
	c.order.Init()
	if c.metrics != nil {
		c.metrics.CacheSize.Set(0)
	}
	c.markDirtyLocked()
}

// Close stops the purge loop and performs a final flush.
func (c *Cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.stopPurge) })
	return c.Flush(ctx)
}

// enforceBoundLocked evicts past the size bound, always purging expired
// entries first so a live LRU victim is never evicted ahead of a dead one.
func (c *Cache) enforceBoundLocked(now time.Time) {
	if c.order.Len() <= c.opts.MaxEntries {
		return
	}

	c.purgeExpiredLocked(now)

	for c.order.Len() > c.opts.MaxEntries {
		tail := c.order.Back()
		if tail == nil {
			return
		}
		c.removeLocked(tail)
		c.stats.Evictions++
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
		}
	}
}

func (c *Cache) purgeExpiredLocked(now time.Time) int {
	purged := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*node).entry.Expired(now) {
			c.removeLocked(elem)
			purged++
		}
		elem = next
	}
	c.stats.Expired += uint64(purged)
	if c.metrics != nil && purged > 0 {
		c.metrics.CacheExpired.Add(float64(purged))
		c.metrics.CacheSize.Set(float64(c.order.Len()))
	}
	return purged
}

func (c *Cache) removeLocked(elem *list.Element) {
	n := c.order.Remove(elem).(*node)
	delete(c.index, n.key)
}

func (c *Cache) purgeLoop() {
	ticker := time.NewTicker(c.opts.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopPurge:
			return
		case <-ticker.C:
			if purged := c.PurgeExpired(); purged > 0 {
				c.log.Debug("purged expired entries", logging.Int("count", purged))
			}
		}
	}
}
