package guard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navguard/navguard/internal/cache"
	"github.com/navguard/navguard/internal/decision"
	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/infrastructure/monitoring"
	"github.com/navguard/navguard/internal/placeholder"
	"github.com/navguard/navguard/internal/protocol"
)

// fakeTransport captures CHECK frames and optionally answers them through
// the guard's incoming path, standing in for a live bridge.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []protocol.Message
	respond func(check protocol.Message)
}

func (t *fakeTransport) Send(ctx context.Context, data []byte) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	respond := t.respond
	t.mu.Unlock()

	if respond != nil {
		go respond(msg)
	}
	return nil
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// fakeWindow is a minimal real navigation handle.
type fakeWindow struct {
	mu     sync.Mutex
	closed bool
	props  map[string]interface{}
}

func (w *fakeWindow) Closed() bool { w.mu.Lock(); defer w.mu.Unlock(); return w.closed }
func (w *fakeWindow) Close() error { w.mu.Lock(); defer w.mu.Unlock(); w.closed = true; return nil }
func (w *fakeWindow) SetProperty(name string, value interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.props == nil {
		w.props = map[string]interface{}{}
	}
	w.props[name] = value
	return nil
}
func (w *fakeWindow) Property(name string) (interface{}, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.props[name]
	return v, ok
}
func (w *fakeWindow) Call(method string, args ...interface{}) error { return nil }

func newTestGuard(t *testing.T, transport *fakeTransport, roundTrip time.Duration) *Guard {
	t.Helper()
	opener := func(url, name, features string) (placeholder.Handle, error) {
		return &fakeWindow{}, nil
	}
	g, err := New("https://page.com", transport, opener, Options{
		RoundTripTimeout:   roundTrip,
		PlaceholderTimeout: time.Minute,
	}, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Teardown(context.Background()) })
	return g
}

func respondWith(g *Guard, allowed bool) func(protocol.Message) {
	return func(check protocol.Message) {
		data, _ := protocol.Encode(protocol.NewResponse(check.CorrelationID, allowed))
		_ = g.HandleIncoming(data)
	}
}

func TestSameOriginOpensImmediately(t *testing.T) {
	transport := &fakeTransport{}
	g := newTestGuard(t, transport, time.Second)

	h, d := g.InterceptOpen(context.Background(), "https://page.com/popup", "w", "")
	assert.Equal(t, decision.Allow, d.Outcome)
	assert.IsType(t, &fakeWindow{}, h, "allowed opens bypass the placeholder")
	assert.Equal(t, 0, transport.sentCount())
}

func TestPopUnderBlockedWithoutPlaceholderLeak(t *testing.T) {
	transport := &fakeTransport{}
	g := newTestGuard(t, transport, time.Second)
	g.NoteInteraction(time.Now())

	h, d := g.InterceptOpen(context.Background(), "https://ads.example/pop", "_blank", "")

	assert.Equal(t, decision.Block, d.Outcome)
	assert.Equal(t, decision.ReasonPopUnder, d.Reason)
	assert.True(t, h.Closed(), "blocked open hands back an inert handle")
	assert.Equal(t, 0, g.PendingNavigations())
	assert.Equal(t, 0, transport.sentCount(), "blocked attempts never reach the broker")
}

func TestArbitratedAllowThenCachedSecondPass(t *testing.T) {
	transport := &fakeTransport{}
	g := newTestGuard(t, transport, time.Second)
	transport.respond = respondWith(g, true)

	h, d := g.InterceptOpen(context.Background(), "https://unknown.com/app", "w", "")
	require.Equal(t, decision.NeedsArbitration, d.Outcome)
	require.NoError(t, h.SetProperty("opener", nil))

	assert.Eventually(t, func() bool { return g.PendingNavigations() == 0 },
		time.Second, 5*time.Millisecond)
	assert.False(t, h.Closed(), "resolved-allowed handle delegates to the real window")

	// Second navigation to the same origin short-circuits on the session
	// cache; no new round trip.
	allowed, d2 := g.InterceptNavigate(context.Background(), "https://unknown.com/other", decision.MethodHrefSet)
	assert.True(t, allowed)
	assert.Equal(t, decision.ReasonCached, d2.Reason)
	assert.Equal(t, 1, transport.sentCount())
}

func TestArbitratedDenyDiscardsQueue(t *testing.T) {
	transport := &fakeTransport{}
	g := newTestGuard(t, transport, time.Second)
	transport.respond = respondWith(g, false)

	h, d := g.InterceptOpen(context.Background(), "https://unknown.com/app", "w", "")
	require.Equal(t, decision.NeedsArbitration, d.Outcome)

	assert.Eventually(t, func() bool { return h.Closed() },
		time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, h.Call("focus"), placeholder.ErrClosed)
	assert.Equal(t, 0, g.PendingNavigations())
}

func TestBrokerSilenceFailsClosedForWindowOpen(t *testing.T) {
	transport := &fakeTransport{} // never responds
	g := newTestGuard(t, transport, 20*time.Millisecond)

	h, d := g.InterceptOpen(context.Background(), "https://unknown.com/app", "w", "")
	require.Equal(t, decision.NeedsArbitration, d.Outcome)

	assert.Eventually(t, func() bool { return h.Closed() },
		time.Second, 5*time.Millisecond)

	report := g.Diagnostics()
	require.Len(t, report.Fallbacks, 1)
	assert.False(t, report.Fallbacks[0].Allowed)
	assert.Equal(t, "fail-closed", report.Fallbacks[0].Reason)
}

func TestBrokerSilenceFailsOpenForHref(t *testing.T) {
	transport := &fakeTransport{}
	g := newTestGuard(t, transport, 20*time.Millisecond)

	allowed, d := g.InterceptNavigate(context.Background(), "https://unknown.com/app", decision.MethodHrefSet)
	assert.Equal(t, decision.NeedsArbitration, d.Outcome)
	assert.True(t, allowed, "location-style navigation fails open")

	report := g.Diagnostics()
	require.Len(t, report.Fallbacks, 1)
	assert.Equal(t, "fail-open", report.Fallbacks[0].Reason)
}

func TestCacheUpdatePushApplied(t *testing.T) {
	transport := &fakeTransport{}
	g := newTestGuard(t, transport, time.Second)

	data, err := protocol.Encode(protocol.NewCacheUpdate(
		"https://page.com", "https://partner.com", "ALLOW", true))
	require.NoError(t, err)
	require.NoError(t, g.HandleIncoming(data))

	entry, ok := g.Cache().Lookup("https://page.com", "https://partner.com/landing")
	require.True(t, ok)
	assert.Equal(t, cache.DecisionAllow, entry.Decision)
	assert.True(t, entry.Persistent)

	allowed, d := g.InterceptNavigate(context.Background(), "https://partner.com/landing", decision.MethodAssign)
	assert.True(t, allowed)
	assert.Equal(t, decision.ReasonCached, d.Reason)
	assert.Equal(t, 0, transport.sentCount())
}

func TestTeardownSweepsPending(t *testing.T) {
	transport := &fakeTransport{} // broker never answers
	g := newTestGuard(t, transport, time.Minute)

	h, _ := g.InterceptOpen(context.Background(), "https://unknown.com/app", "w", "")
	require.Equal(t, 1, g.PendingNavigations())

	require.NoError(t, g.Teardown(context.Background()))
	assert.Equal(t, 0, g.PendingNavigations())
	assert.True(t, h.Closed())
}

func TestRapidOpensFlagged(t *testing.T) {
	transport := &fakeTransport{} // broker never answers within the test
	g := newTestGuard(t, transport, time.Minute)

	// Burst of window opens with no user gesture: anonymous-target and
	// open-frequency alone flag at the fourth call, the first one past the
	// frequency threshold. Each attempt counts itself in the window.
	for i := 0; i < 3; i++ {
		_, d := g.InterceptOpen(context.Background(), "https://unknown.com/w", "_blank", "")
		assert.Equal(t, decision.NeedsArbitration, d.Outcome, "open %d stays below the flag threshold", i+1)
	}

	_, d := g.InterceptOpen(context.Background(), "https://unknown.com/w", "_blank", "")
	assert.Equal(t, decision.Block, d.Outcome)
	assert.Equal(t, decision.ReasonPopUnder, d.Reason)
}

func TestDecisionMetricsRecorded(t *testing.T) {
	transport := &fakeTransport{}
	metrics := monitoring.NewMetrics()
	opener := func(url, name, features string) (placeholder.Handle, error) {
		return &fakeWindow{}, nil
	}
	g, err := New("https://page.com", transport, opener, Options{
		RoundTripTimeout:   time.Second,
		PlaceholderTimeout: time.Minute,
		Metrics:            metrics,
	}, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Teardown(context.Background()) })

	_, d := g.InterceptOpen(context.Background(), "https://page.com/popup", "w", "")
	require.Equal(t, decision.Allow, d.Outcome)

	counter := metrics.Decisions.WithLabelValues(string(decision.Allow), decision.ReasonSameOrigin)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))
}
