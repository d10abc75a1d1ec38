package placeholder

import (
	"sync"

	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/shared/id"
)

// Tracker holds every live placeholder so page teardown can force-finalize
// them as denied. Resolved placeholders remove themselves.
type Tracker struct {
	mu  sync.Mutex
	set map[id.PlaceholderID]*Placeholder
	log *logging.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(log *logging.Logger) *Tracker {
	return &Tracker{
		set: make(map[id.PlaceholderID]*Placeholder),
		log: log.Named("tracker"),
	}
}

// Track registers a placeholder for teardown sweeping. It is removed
// automatically on resolution, whichever comes first.
func (t *Tracker) Track(p *Placeholder) {
	t.mu.Lock()
	t.set[p.ID] = p
	t.mu.Unlock()

	p.mu.Lock()
	p.onFinal = t.remove
	alreadyFinal := p.state != StatePending
	p.mu.Unlock()

	// The placeholder may have resolved between construction and Track.
	if alreadyFinal {
		t.remove(p)
	}
}

func (t *Tracker) remove(p *Placeholder) {
	t.mu.Lock()
	delete(t.set, p.ID)
	t.mu.Unlock()
}

// Len returns the number of still-pending placeholders.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.set)
}

// Sweep force-finalizes every tracked placeholder as denied. Called on
// page-teardown signals so no placeholder or its timer leaks.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	pending := make([]*Placeholder, 0, len(t.set))
	for _, p := range t.set {
		pending = append(pending, p)
	}
	t.mu.Unlock()

	for _, p := range pending {
		p.Resolve(false)
	}

	if len(pending) > 0 {
		t.log.Info("teardown sweep finalized pending navigations",
			logging.Int("count", len(pending)))
	}
	return len(pending)
}
