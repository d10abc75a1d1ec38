// Package placeholder implements the pending navigation placeholder: a
// stand-in returned synchronously by an intercepted navigation call while
// the real ALLOW/DENY decision resolves asynchronously.
//
// The placeholder implements the same Handle interface as a real navigation
// handle. While pending, property writes and method calls are queued in
// arrival order and reads return conservative defaults. On resolution the
// queue is either replayed against the real handle in original order or
// permanently discarded.
package placeholder

import (
	"errors"
	"sync"
	"time"

	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/shared/id"
)

// ErrClosed is returned for operations on a denied or closed handle.
var ErrClosed = errors.New("navigation handle is closed")

// Handle is the surface shared by real navigation handles and placeholders.
type Handle interface {
	// Closed reports whether the underlying window is gone.
	Closed() bool
	// Close closes the window.
	Close() error
	// SetProperty sets a property on the window.
	SetProperty(name string, value interface{}) error
	// Property reads a property from the window.
	Property(name string) (interface{}, bool)
	// Call invokes a method on the window.
	Call(method string, args ...interface{}) error
}

// Opener opens the real navigation handle once an attempt is allowed.
type Opener func(url, name, features string) (Handle, error)

// State is the placeholder lifecycle state.
type State int

const (
	StatePending State = iota
	StateResolvedAllowed
	StateResolvedDenied
	StateResolvedTimeout
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolvedAllowed:
		return "resolved-allowed"
	case StateResolvedDenied:
		return "resolved-denied"
	case StateResolvedTimeout:
		return "resolved-timeout"
	default:
		return "unknown"
	}
}

type opKind int

const (
	opSetProperty opKind = iota
	opCall
	opClose
)

type operation struct {
	kind  opKind
	name  string
	value interface{}
	args  []interface{}
}

// Placeholder is a pending navigation handle.
type Placeholder struct {
	ID             id.PlaceholderID
	TargetURL      string
	WindowName     string
	WindowFeatures string

	mu      sync.Mutex
	state   State
	queue   []operation
	real    Handle
	timer   *time.Timer
	opener  Opener
	log     *logging.Logger
	onFinal func(*Placeholder)
}

// New creates a pending placeholder. The timeout ceiling guarantees it is
// never left dangling: if nothing resolves it in time it self-resolves to
// StateResolvedTimeout, which is treated as denial.
func New(url, name, features string, timeout time.Duration, opener Opener, log *logging.Logger) *Placeholder {
	p := &Placeholder{
		ID:             id.NewPlaceholderID(),
		TargetURL:      url,
		WindowName:     name,
		WindowFeatures: features,
		state:          StatePending,
		opener:         opener,
		log:            log.Named("placeholder"),
	}
	p.timer = time.AfterFunc(timeout, p.resolveTimeout)
	return p
}

// State returns the current lifecycle state.
func (p *Placeholder) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Resolve finalizes the placeholder with the arbitrated decision. Allowed
// opens the real handle and replays the queue in arrival order; denied
// discards it. Duplicate resolutions are ignored.
func (p *Placeholder) Resolve(allowed bool) {
	if allowed {
		p.finalize(StateResolvedAllowed)
	} else {
		p.finalize(StateResolvedDenied)
	}
}

func (p *Placeholder) resolveTimeout() {
	p.finalize(StateResolvedTimeout)
}

func (p *Placeholder) finalize(state State) {
	p.mu.Lock()
	if p.state != StatePending {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.timer.Stop()

	queue := p.queue
	p.queue = nil

	if state == StateResolvedAllowed {
		real, err := p.opener(p.TargetURL, p.WindowName, p.WindowFeatures)
		if err != nil {
			// Could not open the real window; behave as denied.
			p.state = StateResolvedDenied
			p.mu.Unlock()
			p.log.Warn("failed to open allowed navigation",
				logging.String("url", p.TargetURL), logging.Err(err))
			p.fireFinal()
			return
		}
		p.real = real
		p.mu.Unlock()
		p.replay(real, queue)
		p.fireFinal()
		return
	}

	p.mu.Unlock()
	p.log.Debug("pending navigation discarded",
		logging.String("url", p.TargetURL),
		logging.String("state", state.String()),
		logging.Int("dropped_ops", len(queue)))
	p.fireFinal()
}

// replay applies queued operations in original order. Per-operation errors
// are logged and never abort the remaining queue.
func (p *Placeholder) replay(real Handle, queue []operation) {
	for _, op := range queue {
		var err error
		switch op.kind {
		case opSetProperty:
			err = real.SetProperty(op.name, op.value)
		case opCall:
			err = real.Call(op.name, op.args...)
		case opClose:
			err = real.Close()
		}
		if err != nil {
			p.log.Warn("replay operation failed",
				logging.String("url", p.TargetURL), logging.Err(err))
		}
	}
}

func (p *Placeholder) fireFinal() {
	p.mu.Lock()
	cb := p.onFinal
	p.onFinal = nil
	p.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

// Closed reports "not yet closed" while pending, delegates once allowed,
// and behaves as already closed after denial or timeout.
func (p *Placeholder) Closed() bool {
	p.mu.Lock()
	state, real := p.state, p.real
	p.mu.Unlock()

	switch state {
	case StatePending:
		return false
	case StateResolvedAllowed:
		return real.Closed()
	default:
		return true
	}
}

// Close queues while pending and delegates once allowed.
func (p *Placeholder) Close() error {
	p.mu.Lock()
	if p.state == StatePending {
		p.queue = append(p.queue, operation{kind: opClose})
		p.mu.Unlock()
		return nil
	}
	state, real := p.state, p.real
	p.mu.Unlock()

	if state == StateResolvedAllowed {
		return real.Close()
	}
	return nil
}

// SetProperty queues while pending and delegates once allowed.
func (p *Placeholder) SetProperty(name string, value interface{}) error {
	p.mu.Lock()
	if p.state == StatePending {
		p.queue = append(p.queue, operation{kind: opSetProperty, name: name, value: value})
		p.mu.Unlock()
		return nil
	}
	state, real := p.state, p.real
	p.mu.Unlock()

	if state == StateResolvedAllowed {
		return real.SetProperty(name, value)
	}
	return ErrClosed
}

// Property returns conservative defaults while pending and delegates once
// allowed. Denied handles read as absent.
func (p *Placeholder) Property(name string) (interface{}, bool) {
	p.mu.Lock()
	state, real := p.state, p.real
	p.mu.Unlock()

	if state == StateResolvedAllowed {
		return real.Property(name)
	}
	return nil, false
}

// Call queues while pending and delegates once allowed.
func (p *Placeholder) Call(method string, args ...interface{}) error {
	p.mu.Lock()
	if p.state == StatePending {
		p.queue = append(p.queue, operation{kind: opCall, name: method, args: args})
		p.mu.Unlock()
		return nil
	}
	state, real := p.state, p.real
	p.mu.Unlock()

	if state == StateResolvedAllowed {
		return real.Call(method, args...)
	}
	return ErrClosed
}
