package protocol

import (
	"sync"
	"time"
)

// FallbackRingSize bounds the diagnostics ring. Older events roll off.
const FallbackRingSize = 10

// FallbackEvent records one locally-resolved decision taken because the
// broker did not answer in time or the bridge was down.
type FallbackEvent struct {
	URL     string    `json:"url"`
	Method  string    `json:"method"`
	Allowed bool      `json:"allowed"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// FallbackRing is a fixed-capacity ring of the most recent fallback events,
// exposed through the diagnostics surface.
type FallbackRing struct {
	mu    sync.Mutex
	buf   []FallbackEvent
	next  int
	count int
}

// NewFallbackRing creates a ring with the given capacity.
func NewFallbackRing(capacity int) *FallbackRing {
	if capacity <= 0 {
		capacity = FallbackRingSize
	}
	return &FallbackRing{buf: make([]FallbackEvent, capacity)}
}

// Add records an event, displacing the oldest once full.
func (r *FallbackRing) Add(event FallbackEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = event
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Events returns the recorded events, oldest first.
func (r *FallbackRing) Events() []FallbackEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FallbackEvent, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len returns the number of recorded events.
func (r *FallbackRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
