package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/origin"
	"github.com/navguard/navguard/internal/store"
)

// snapshotVersion is bumped on incompatible schema changes. A mismatched
// version discards the whole record; there is no partial migration.
const snapshotVersion = 1

type snapshot struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
	Stats   snapshotStats    `json:"stats"`
}

type snapshotStats struct {
	SavedAt time.Time `json:"saved_at"`
	Size    int       `json:"size"`
}

// Load restores entries from the durable store. Missing records, version
// mismatches and malformed entries all leave the cache empty but
// functional; only the store being unreachable is reported, and even that
// is safe to ignore.
func (c *Cache) Load(ctx context.Context) error {
	if c.durable == nil {
		return nil
	}

	data, err := c.durable.Get(ctx, c.opts.StoreKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		c.log.Warn("cache restore failed, starting empty", logging.Err(err))
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.log.Warn("cache record malformed, starting empty", logging.Err(err))
		return nil
	}
	if snap.Version != snapshotVersion {
		c.log.Warn("cache record version mismatch, discarding",
			logging.Int("found", snap.Version), logging.Int("want", snapshotVersion))
		return nil
	}

	type keyed struct {
		key   string
		entry Entry
	}

	now := c.now()
	var dropped uint64
	restorable := make([]keyed, 0, len(snap.Entries))
	for key, entry := range snap.Entries {
		if _, _, ok := origin.SplitKey(key); !ok || !entry.valid() {
			dropped++
			continue
		}
		if entry.Expired(now) {
			dropped++
			continue
		}
		restorable = append(restorable, keyed{key: key, entry: entry})
	}

	// Oldest access first; each insert at the front leaves the most
	// recently used entry at the head, so recency survives the restart
	// without replaying the original access sequence.
	sort.Slice(restorable, func(i, j int) bool {
		return restorable[i].entry.LastAccess.Before(restorable[j].entry.LastAccess)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, item := range restorable {
		if _, exists := c.index[item.key]; exists {
			continue
		}
		c.index[item.key] = c.order.PushFront(&node{key: item.key, entry: item.entry})
	}
	c.enforceBoundLocked(now)
	c.stats.DroppedOnLoad += dropped
	if c.metrics != nil {
		c.metrics.CacheSize.Set(float64(c.order.Len()))
	}

	c.log.Info("cache restored",
		logging.Int("entries", c.order.Len()),
		logging.Int("dropped", int(dropped)))
	return nil
}

// Flush writes the current entries to the durable store immediately,
// cancelling any pending debounced flush.
func (c *Cache) Flush(ctx context.Context) error {
	if c.durable == nil {
		return nil
	}

	c.mu.Lock()
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.dirty = false
	data, err := c.marshalLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.writeSnapshot(ctx, data)
}

// markDirtyLocked schedules a debounced durable write. Bursts of Record
// calls inside one debounce window coalesce into a single write.
func (c *Cache) markDirtyLocked() {
	c.dirty = true
	if c.durable == nil || c.flushTimer != nil {
		return
	}
	c.flushTimer = time.AfterFunc(c.opts.FlushDebounce, c.flushDebounced)
}

func (c *Cache) flushDebounced() {
	c.mu.Lock()
	c.flushTimer = nil
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	c.dirty = false
	data, err := c.marshalLocked()
	c.mu.Unlock()
	if err != nil {
		c.log.Error("cache snapshot marshal failed", logging.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.writeSnapshot(ctx, data); err != nil {
		c.log.Warn("cache flush failed, staying in-memory", logging.Err(err))
	}
}

func (c *Cache) marshalLocked() ([]byte, error) {
	snap := snapshot{
		Version: snapshotVersion,
		Entries: make(map[string]Entry, c.order.Len()),
		Stats: snapshotStats{
			SavedAt: c.now(),
			Size:    c.order.Len(),
		},
	}
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		n := elem.Value.(*node)
		snap.Entries[n.key] = n.entry
	}
	return json.Marshal(snap)
}

func (c *Cache) writeSnapshot(ctx context.Context, data []byte) error {
	err := c.breaker.Do(func() error {
		return c.durable.Set(ctx, c.opts.StoreKey, data)
	})

	c.mu.Lock()
	status := "success"
	if err != nil {
		c.stats.FlushFailures++
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.CacheFlushes.WithLabelValues(status).Inc()
	}
	c.mu.Unlock()
	return err
}
