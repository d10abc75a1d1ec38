// Package guard is the page-context engine: the embeddable composition of
// the quick decision layer, a local permission cache, the pending
// navigation placeholder and the page side of the cross-context protocol.
//
// A host intercepting the navigation APIs calls InterceptOpen for
// window-open attempts and InterceptNavigate for href/assign/replace
// navigation. Both return synchronously; arbitration resolves behind a
// placeholder or a blocking round trip with a risk-aware local fallback.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/navguard/navguard/internal/cache"
	"github.com/navguard/navguard/internal/decision"
	"github.com/navguard/navguard/internal/diagnostics"
	"github.com/navguard/navguard/internal/heuristics"
	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/infrastructure/monitoring"
	"github.com/navguard/navguard/internal/placeholder"
	"github.com/navguard/navguard/internal/policy"
	"github.com/navguard/navguard/internal/protocol"
)

// Options configures a guard.
type Options struct {
	// Policy defaults to policy.Default().
	Policy *policy.Policy
	// RoundTripTimeout bounds one CHECK round trip. Defaults to 30s.
	RoundTripTimeout time.Duration
	// PlaceholderTimeout is the pending placeholder ceiling. Defaults to 30s.
	PlaceholderTimeout time.Duration
	// CacheOptions configures the local permission cache.
	CacheOptions cache.Options
	// Metrics receives decision and cache collectors. May be nil.
	Metrics *monitoring.Metrics
}

// Guard guards one page context.
type Guard struct {
	sourceOrigin string
	engine       *decision.Engine
	cache        *cache.Cache
	matcher      *heuristics.Matcher
	client       *protocol.Client
	tracker      *placeholder.Tracker
	recorder     *diagnostics.Recorder
	opener       placeholder.Opener
	phTimeout    time.Duration
	metrics      *monitoring.Metrics
	log          *logging.Logger

	mu              sync.Mutex
	recentOpens     []time.Time
	lastInteraction time.Time
}

// New creates a guard for one page origin. The transport connects to the
// broker bridge; the opener opens real navigation handles for allowed
// window-open attempts.
func New(sourceOrigin string, transport protocol.Transport, opener placeholder.Opener, opts Options, log *logging.Logger) (*Guard, error) {
	pol := opts.Policy
	if pol == nil {
		pol = policy.Default()
	}
	if opts.PlaceholderTimeout <= 0 {
		opts.PlaceholderTimeout = 30 * time.Second
	}

	matcher, err := heuristics.NewMatcher(pol.Signatures)
	if err != nil {
		return nil, err
	}

	// The page-side cache is memory-only; durability lives on the broker.
	permCache := cache.New(opts.CacheOptions, nil, log)
	if opts.Metrics != nil {
		permCache.SetMetrics(opts.Metrics)
	}

	g := &Guard{
		sourceOrigin: sourceOrigin,
		engine:       decision.NewEngine(permCache, matcher, pol),
		cache:        permCache,
		matcher:      matcher,
		client:       protocol.NewClient(transport, matcher, opts.RoundTripTimeout, nil, log),
		tracker:      placeholder.NewTracker(log),
		recorder:     diagnostics.NewRecorder(diagnostics.DefaultWindow),
		opener:       opener,
		phTimeout:    opts.PlaceholderTimeout,
		metrics:      opts.Metrics,
		log:          log.Named("guard"),
	}
	g.client.OnCacheUpdate(g.applyCacheUpdate)
	return g, nil
}

// NoteInteraction records a genuine user gesture, feeding the pop-under
// click-correlation heuristic.
func (g *Guard) NoteInteraction(at time.Time) {
	g.mu.Lock()
	g.lastInteraction = at
	g.mu.Unlock()
}

// InterceptOpen handles one window-open attempt. It always returns a usable
// handle synchronously: the real handle when allowed outright, a pending
// placeholder when arbitration is needed, and an already-closed placeholder
// when blocked.
func (g *Guard) InterceptOpen(ctx context.Context, url, windowName, features string) (placeholder.Handle, decision.Decision) {
	attempt := g.newOpenAttempt(url)
	attempt.WindowName = windowName
	attempt.WindowFeatures = features

	d := g.decide(attempt)

	switch d.Outcome {
	case decision.Allow:
		h, err := g.opener(url, windowName, features)
		if err != nil {
			g.log.Warn("failed to open allowed navigation",
				logging.String("url", url), logging.Err(err))
			return g.deniedPlaceholder(url, windowName, features), d
		}
		return h, d

	case decision.Block:
		g.log.Info("blocked window open",
			logging.String("url", url), logging.String("reason", d.Reason))
		return g.deniedPlaceholder(url, windowName, features), d

	default:
		p := placeholder.New(url, windowName, features, g.phTimeout, g.opener, g.log)
		g.tracker.Track(p)
		go func() {
			allowed, _ := g.client.Check(ctx, attempt, g.hints(d))
			g.rememberSession(url, allowed)
			p.Resolve(allowed)
		}()
		return p, d
	}
}

// InterceptNavigate handles one href/assign/replace attempt, blocking until
// a decision exists. Arbitration silence degrades to the risk-aware
// fallback rather than hanging the navigation.
func (g *Guard) InterceptNavigate(ctx context.Context, url string, method decision.Method) (bool, decision.Decision) {
	attempt := g.newAttempt(url, method)

	d := g.decide(attempt)

	switch d.Outcome {
	case decision.Allow:
		return true, d
	case decision.Block:
		g.log.Info("blocked navigation",
			logging.String("url", url), logging.String("reason", d.Reason))
		return false, d
	default:
		allowed, _ := g.client.Check(ctx, attempt, g.hints(d))
		g.rememberSession(url, allowed)
		return allowed, d
	}
}

// HandleIncoming feeds one broker-originated frame into the protocol client.
// The transport read loop calls this.
func (g *Guard) HandleIncoming(data []byte) error {
	return g.client.HandleIncoming(data)
}

// Diagnostics returns the current diagnostics report.
func (g *Guard) Diagnostics() diagnostics.Report {
	return diagnostics.Build(g.recorder, g.client.Fallbacks())
}

// PendingNavigations returns the number of unresolved placeholders.
func (g *Guard) PendingNavigations() int {
	return g.tracker.Len()
}

// Cache exposes the local permission cache.
func (g *Guard) Cache() *cache.Cache {
	return g.cache
}

// Teardown force-finalizes all pending placeholders as denied and closes
// the cache. Called on page teardown.
func (g *Guard) Teardown(ctx context.Context) error {
	g.tracker.Sweep()
	return g.cache.Close(ctx)
}

func (g *Guard) newAttempt(url string, method decision.Method) decision.Attempt {
	now := time.Now()

	g.mu.Lock()
	g.recentOpens = heuristics.PruneWindow(g.recentOpens, now)
	attempt := decision.Attempt{
		URL:             url,
		Method:          method,
		SourceOrigin:    g.sourceOrigin,
		Timestamp:       now,
		RecentOpens:     append([]time.Time(nil), g.recentOpens...),
		LastInteraction: g.lastInteraction,
	}
	g.mu.Unlock()
	return attempt
}

// newOpenAttempt records the open in the frequency window before taking the
// snapshot, so the attempt's RecentOpens includes itself. The fourth open
// inside the window is the first one the frequency factor scores.
func (g *Guard) newOpenAttempt(url string) decision.Attempt {
	now := time.Now()

	g.mu.Lock()
	g.recentOpens = append(heuristics.PruneWindow(g.recentOpens, now), now)
	attempt := decision.Attempt{
		URL:             url,
		Method:          decision.MethodWindowOpen,
		SourceOrigin:    g.sourceOrigin,
		Timestamp:       now,
		RecentOpens:     append([]time.Time(nil), g.recentOpens...),
		LastInteraction: g.lastInteraction,
	}
	g.mu.Unlock()
	return attempt
}

// decide runs the quick layer and records the verdict for diagnostics and
// metrics.
func (g *Guard) decide(attempt decision.Attempt) decision.Decision {
	start := time.Now()
	d := g.engine.Decide(attempt)
	g.recorder.Observe(d.RiskScore)
	if g.metrics != nil {
		g.metrics.RecordDecision(string(d.Outcome), d.Reason, time.Since(start))
	}
	return d
}

// rememberSession caches an arbitrated answer as a session entry so the
// next identical attempt short-circuits locally. Persistent entries only
// ever arrive through CACHE_UPDATE pushes.
func (g *Guard) rememberSession(url string, allowed bool) {
	d := cache.DecisionDeny
	if allowed {
		d = cache.DecisionAllow
	}
	g.cache.Record(g.sourceOrigin, url, d, cache.RecordOptions{})
}

func (g *Guard) applyCacheUpdate(sourceOrigin, targetOrigin, wire string, persistent bool) {
	d := cache.DecisionDeny
	if wire == "ALLOW" {
		d = cache.DecisionAllow
	}
	g.cache.Record(sourceOrigin, targetOrigin, d, cache.RecordOptions{Persistent: persistent})
}

func (g *Guard) hints(d decision.Decision) *protocol.HeuristicHints {
	return &protocol.HeuristicHints{
		Score:   d.RiskScore,
		Flagged: d.RiskScore >= heuristics.FlagThreshold,
		Threats: d.Threats,
	}
}

// deniedPlaceholder builds a placeholder already resolved to denial, so
// blocked window opens still hand the caller an inert handle.
func (g *Guard) deniedPlaceholder(url, name, features string) placeholder.Handle {
	p := placeholder.New(url, name, features, g.phTimeout, g.opener, g.log)
	p.Resolve(false)
	return p
}
