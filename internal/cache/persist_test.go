package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/store"
)

func TestFlushAndLoadRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	c1 := New(Options{}, st, logging.NewNop())
	c1.Record("https://a.com", "https://b.com", DecisionAllow, RecordOptions{Persistent: true})
	c1.Record("https://a.com", "https://c.com", DecisionDeny, RecordOptions{})
	require.NoError(t, c1.Close(ctx))

	c2 := New(Options{}, st, logging.NewNop())
	defer c2.Close(ctx)
	require.NoError(t, c2.Load(ctx))

	entry, ok := c2.Lookup("https://a.com", "https://b.com")
	require.True(t, ok)
	assert.Equal(t, DecisionAllow, entry.Decision)
	assert.True(t, entry.Persistent)

	entry, ok = c2.Lookup("https://a.com", "https://c.com")
	require.True(t, ok)
	assert.Equal(t, DecisionDeny, entry.Decision)
}

func TestLoadPreservesRecency(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	c1 := New(Options{MaxEntries: 3}, st, logging.NewNop())
	base := time.Now()
	for i, target := range []string{"https://t0.com", "https://t1.com", "https://t2.com"} {
		tick := base.Add(time.Duration(i) * time.Second)
		c1.now = func() time.Time { return tick }
		c1.Record("https://a.com", target, DecisionAllow, RecordOptions{})
	}
	require.NoError(t, c1.Close(ctx))

	c2 := New(Options{MaxEntries: 3}, st, logging.NewNop())
	defer c2.Close(ctx)
	require.NoError(t, c2.Load(ctx))

	// The restored LRU victim must be the least recently accessed entry.
	c2.Record("https://a.com", "https://new.com", DecisionAllow, RecordOptions{})

	_, ok := c2.Lookup("https://a.com", "https://t0.com")
	assert.False(t, ok, "oldest-access entry should be the eviction victim after restore")
	_, ok = c2.Lookup("https://a.com", "https://t2.com")
	assert.True(t, ok)
}

func TestLoadDropsExpiredAndMalformed(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	snap := snapshot{
		Version: snapshotVersion,
		Entries: map[string]Entry{
			"https://a.com|https://live.com": {
				Decision:   DecisionAllow,
				CreatedAt:  now,
				ExpiresAt:  now.Add(time.Hour),
				LastAccess: now,
			},
			"https://a.com|https://dead.com": {
				Decision:   DecisionAllow,
				CreatedAt:  now.Add(-2 * time.Hour),
				ExpiresAt:  now.Add(-time.Hour),
				LastAccess: now.Add(-2 * time.Hour),
			},
			"https://a.com|https://badexpiry.com": {
				Decision:  DecisionAllow,
				CreatedAt: now,
				ExpiresAt: now.Add(-time.Minute),
			},
			"not-a-pair-key": {
				Decision:   DecisionAllow,
				CreatedAt:  now,
				ExpiresAt:  now.Add(time.Hour),
				LastAccess: now,
			},
			"https://a.com|https://badverdict.com": {
				Decision:   Decision("MAYBE"),
				CreatedAt:  now,
				ExpiresAt:  now.Add(time.Hour),
				LastAccess: now,
			},
		},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "permissions", data))

	c := New(Options{}, st, logging.NewNop())
	defer c.Close(ctx)
	require.NoError(t, c.Load(ctx))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(4), c.Stats().DroppedOnLoad)

	_, ok := c.Lookup("https://a.com", "https://live.com")
	assert.True(t, ok)
}

func TestLoadVersionMismatchDiscardsRecord(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	snap := snapshot{
		Version: snapshotVersion + 1,
		Entries: map[string]Entry{
			"https://a.com|https://b.com": {
				Decision:   DecisionAllow,
				CreatedAt:  now,
				ExpiresAt:  now.Add(time.Hour),
				LastAccess: now,
			},
		},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "permissions", data))

	c := New(Options{}, st, logging.NewNop())
	defer c.Close(ctx)
	require.NoError(t, c.Load(ctx))

	assert.Equal(t, 0, c.Len(), "mismatched version discards the whole record")
}

func TestLoadMalformedRecordStartsEmpty(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "permissions", []byte("{garbage")))

	c := New(Options{}, st, logging.NewNop())
	defer c.Close(ctx)

	assert.NoError(t, c.Load(ctx), "malformed record is never fatal")
	assert.Equal(t, 0, c.Len())

	// The cache stays functional.
	c.Record("https://a.com", "https://b.com", DecisionAllow, RecordOptions{})
	_, ok := c.Lookup("https://a.com", "https://b.com")
	assert.True(t, ok)
}

func TestStoreFailureDegradesToMemory(t *testing.T) {
	st := store.NewMemoryStore()
	st.FailWrites = true
	ctx := context.Background()

	c := New(Options{FlushDebounce: 10 * time.Millisecond}, st, logging.NewNop())
	defer c.Close(ctx)

	// Record never surfaces the failure.
	c.Record("https://a.com", "https://b.com", DecisionAllow, RecordOptions{})

	time.Sleep(50 * time.Millisecond)

	_, ok := c.Lookup("https://a.com", "https://b.com")
	assert.True(t, ok, "cache keeps serving from memory")
	assert.GreaterOrEqual(t, c.Stats().FlushFailures, uint64(1))
}

func TestDebounceCoalescesBursts(t *testing.T) {
	st := &countingStore{MemoryStore: store.NewMemoryStore()}

	c := New(Options{FlushDebounce: 30 * time.Millisecond}, st, logging.NewNop())

	for i := 0; i < 20; i++ {
		c.Record("https://a.com", fmt.Sprintf("https://t%d.com", i), DecisionAllow, RecordOptions{})
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, st.sets(), "a burst inside one debounce window coalesces into one write")

	_ = c.Close(context.Background())
}

type countingStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	setCount int
}

func (s *countingStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.setCount++
	s.mu.Unlock()
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *countingStore) sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCount
}
