// Package decision implements the synchronous quick decision layer.
//
// Decide combines the same-origin short-circuit, a permission cache lookup
// and the threat heuristics into one of three outcomes: ALLOW, BLOCK or
// NEEDS_ARBITRATION. It never blocks on I/O and never returns an error; a
// navigation call path must always get an answer.
//
// Window-open navigation defaults toward arbitration or blocking on
// uncertainty; href/assign/replace navigation defaults toward allowing
// medium-risk targets, because that path is how legitimate single-page
// apps route.
package decision

import (
	"time"

	"github.com/navguard/navguard/internal/cache"
	"github.com/navguard/navguard/internal/heuristics"
	"github.com/navguard/navguard/internal/origin"
	"github.com/navguard/navguard/internal/policy"
)

// Method is the navigation API a page used.
type Method string

const (
	MethodWindowOpen Method = "windowOpen"
	MethodAssign     Method = "assign"
	MethodReplace    Method = "replace"
	MethodHrefSet    Method = "hrefSet"
)

// LocationStyle reports whether the method is href/assign/replace-style
// navigation rather than window-open.
func (m Method) LocationStyle() bool {
	return m == MethodAssign || m == MethodReplace || m == MethodHrefSet
}

// Outcome is a quick-layer verdict.
type Outcome string

const (
	Allow            Outcome = "ALLOW"
	Block            Outcome = "BLOCK"
	NeedsArbitration Outcome = "NEEDS_ARBITRATION"
)

// Decision reasons, first match wins.
const (
	ReasonSameOrigin    = "same-origin"
	ReasonCached        = "cached-permission"
	ReasonPopUnder      = "pop-under"
	ReasonMalicious     = "malicious-pattern"
	ReasonLowRisk       = "low-risk-navigation"
	ReasonHighRisk      = "high-risk-navigation"
	ReasonUnknownOrigin = "cross-origin-unknown"
)

// Attempt is one navigation attempt. Transient, never persisted.
type Attempt struct {
	URL            string    `json:"url"`
	Method         Method    `json:"method"`
	WindowName     string    `json:"window_name,omitempty"`
	WindowFeatures string    `json:"window_features,omitempty"`
	SourceOrigin   string    `json:"source_origin"`
	Timestamp      time.Time `json:"timestamp"`

	// RecentOpens and LastInteraction feed the pop-under heuristic for
	// window-open attempts.
	RecentOpens     []time.Time `json:"-"`
	LastInteraction time.Time   `json:"-"`
}

// Decision is the quick layer's verdict. Only its eventual ALLOW/DENY
// resolution is ever cached, never the decision itself.
type Decision struct {
	Outcome   Outcome             `json:"outcome"`
	Reason    string              `json:"reason"`
	RiskScore int                 `json:"risk_score,omitempty"`
	Threats   []heuristics.Threat `json:"threats,omitempty"`
}

// Engine owns the quick decision dependencies.
type Engine struct {
	cache   *cache.Cache
	matcher *heuristics.Matcher
	policy  *policy.Policy
}

// NewEngine creates a decision engine.
func NewEngine(permCache *cache.Cache, matcher *heuristics.Matcher, pol *policy.Policy) *Engine {
	return &Engine{cache: permCache, matcher: matcher, policy: pol}
}

// Decide evaluates one navigation attempt. Ordered rules, first match wins.
func (e *Engine) Decide(attempt Attempt) Decision {
	now := attempt.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	// 1. Same-origin and non-navigating targets are always allowed.
	if origin.NonNavigating(attempt.URL) || origin.Same(attempt.SourceOrigin, attempt.URL) {
		return Decision{Outcome: Allow, Reason: ReasonSameOrigin}
	}

	// 2. A live cached decision wins over every heuristic.
	if entry, ok := e.cache.Lookup(attempt.SourceOrigin, attempt.URL); ok {
		outcome := Allow
		if entry.Decision == cache.DecisionDeny {
			outcome = Block
		}
		return Decision{Outcome: outcome, Reason: ReasonCached}
	}

	// 3. Pop-under scoring applies to window-open only.
	if attempt.Method == MethodWindowOpen {
		verdict := e.matcher.ScorePopUnder(attempt.URL, attempt.WindowName,
			attempt.RecentOpens, attempt.LastInteraction, now)
		if verdict.Flagged {
			return Decision{
				Outcome:   Block,
				Reason:    ReasonPopUnder,
				RiskScore: verdict.Score,
			}
		}
	}

	// 4. Signature matches block regardless of navigation method.
	match := e.matcher.Match(attempt.URL)
	if match.Matched() {
		return Decision{
			Outcome:   Block,
			Reason:    ReasonMalicious,
			RiskScore: match.Score,
			Threats:   match.Threats,
		}
	}

	// 5. Risk classification for href/assign/replace-style navigation.
	if attempt.Method.LocationStyle() {
		if e.policy.IsDangerousScheme(attempt.URL) {
			return Decision{Outcome: Block, Reason: ReasonHighRisk}
		}
		if e.policy.IsTrustedDomain(attempt.URL) || e.policy.IsAuthCallback(attempt.URL) {
			return Decision{Outcome: Allow, Reason: ReasonLowRisk, RiskScore: match.Score}
		}
	}

	// 6. Everything else needs arbitration.
	return Decision{
		Outcome:   NeedsArbitration,
		Reason:    ReasonUnknownOrigin,
		RiskScore: match.Score,
		Threats:   match.Threats,
	}
}
