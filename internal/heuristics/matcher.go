// Package heuristics scores navigation attempts for pop-under likelihood
// and generic URL risk.
//
// The signature matcher is stateless per call; its signature set can be
// swapped atomically at runtime by the feed updater. Pop-under scoring is a
// pure weighted sum over click correlation, signature match, window naming
// and call frequency.
package heuristics

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/navguard/navguard/internal/policy"
)

// Per-category signature scores.
const (
	scoreAdDomain        = 4
	scoreSuspiciousParam = 2
	scoreTrackingShape   = 3
	scoreRiskyTLD        = 2

	// MatchThreshold is the aggregate score at which a URL counts as a
	// malicious-pattern match. A risky TLD alone stays below it.
	MatchThreshold = 3
)

// Threat describes one matched signature category.
type Threat struct {
	Type   string `json:"type"`
	Score  int    `json:"score"`
	Detail string `json:"detail,omitempty"`
}

// Match is the aggregate result of testing a URL against the signature set.
type Match struct {
	Score   int      `json:"score"`
	Threats []Threat `json:"threats,omitempty"`
}

// Matched reports whether the aggregate score clears the match threshold.
func (m Match) Matched() bool {
	return m.Score >= MatchThreshold
}

type compiledSignatures struct {
	adDomains        []string
	suspiciousParams map[string]struct{}
	trackingShapes   []*regexp.Regexp
	riskyTLDs        map[string]struct{}
}

// Matcher tests URLs against a malicious-pattern signature set.
type Matcher struct {
	mu   sync.RWMutex
	sigs compiledSignatures
}

// NewMatcher compiles a signature set into a matcher.
func NewMatcher(sigs policy.Signatures) (*Matcher, error) {
	compiled, err := compile(sigs)
	if err != nil {
		return nil, err
	}
	return &Matcher{sigs: compiled}, nil
}

// Swap atomically replaces the signature set. A compile failure leaves the
// current set untouched.
func (m *Matcher) Swap(sigs policy.Signatures) error {
	compiled, err := compile(sigs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sigs = compiled
	m.mu.Unlock()
	return nil
}

func compile(sigs policy.Signatures) (compiledSignatures, error) {
	c := compiledSignatures{
		suspiciousParams: make(map[string]struct{}, len(sigs.SuspiciousParams)),
		riskyTLDs:        make(map[string]struct{}, len(sigs.RiskyTLDs)),
	}

	for _, d := range sigs.AdDomains {
		c.adDomains = append(c.adDomains, strings.ToLower(d))
	}
	for _, p := range sigs.SuspiciousParams {
		c.suspiciousParams[strings.ToLower(p)] = struct{}{}
	}
	for _, t := range sigs.RiskyTLDs {
		c.riskyTLDs[strings.ToLower(t)] = struct{}{}
	}
	for _, shape := range sigs.TrackingParamShapes {
		re, err := regexp.Compile(shape)
		if err != nil {
			return compiledSignatures{}, fmt.Errorf("failed to compile tracking shape %q: %w", shape, err)
		}
		c.trackingShapes = append(c.trackingShapes, re)
	}

	return c, nil
}

// Match tests a URL against the signature set and returns the aggregate
// score with enumerated threats. Unparseable URLs match nothing.
func (m *Matcher) Match(rawURL string) Match {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Match{}
	}

	m.mu.RLock()
	sigs := m.sigs
	m.mu.RUnlock()

	var result Match
	host := strings.ToLower(u.Hostname())

	for _, domain := range sigs.adDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			result.add("ad-domain", scoreAdDomain, domain)
			break
		}
	}

	query := u.Query()
	for param := range query {
		if _, ok := sigs.suspiciousParams[strings.ToLower(param)]; ok {
			result.add("suspicious-param", scoreSuspiciousParam, param)
		}
	}

	probe := u.Path
	if u.RawQuery != "" {
		probe += "?" + u.RawQuery
	}
	for _, re := range sigs.trackingShapes {
		if re.MatchString(u.RawQuery) || re.MatchString(probe) {
			result.add("tracking-shape", scoreTrackingShape, re.String())
			break
		}
	}

	if idx := strings.LastIndex(host, "."); idx >= 0 {
		if _, ok := sigs.riskyTLDs[host[idx+1:]]; ok {
			result.add("risky-tld", scoreRiskyTLD, host[idx+1:])
		}
	}

	return result
}

func (m *Match) add(threatType string, score int, detail string) {
	m.Score += score
	m.Threats = append(m.Threats, Threat{Type: threatType, Score: score, Detail: detail})
}
