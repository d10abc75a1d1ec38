package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navguard/navguard/internal/policy"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher(policy.Default().Signatures)
	require.NoError(t, err)
	return m
}

func TestMatchAdDomain(t *testing.T) {
	m := newTestMatcher(t)

	result := m.Match("https://ads.example/pop")
	assert.True(t, result.Matched())
	require.NotEmpty(t, result.Threats)
	assert.Equal(t, "ad-domain", result.Threats[0].Type)

	// Subdomains of a listed domain match too.
	assert.True(t, m.Match("https://cdn.popads.net/x").Matched())
}

func TestMatchTrackingShape(t *testing.T) {
	m := newTestMatcher(t)

	result := m.Match("https://landing.example.com/go?param_4=1")
	assert.True(t, result.Matched(), "PHP tracking-parameter shape should match")

	clean := m.Match("https://example.com/articles?page=2")
	assert.False(t, clean.Matched())
	assert.Zero(t, clean.Score)
}

func TestMatchSuspiciousParam(t *testing.T) {
	m := newTestMatcher(t)

	result := m.Match("https://example.com/r?clickid=9&zoneid=12")
	assert.True(t, result.Matched(), "two suspicious params should clear the threshold")
	assert.Len(t, result.Threats, 2)
}

func TestRiskyTLDAloneBelowThreshold(t *testing.T) {
	m := newTestMatcher(t)

	result := m.Match("https://harmless.xyz/page")
	assert.False(t, result.Matched())
	assert.Equal(t, scoreRiskyTLD, result.Score)
}

func TestMatchUnparseable(t *testing.T) {
	m := newTestMatcher(t)
	assert.Zero(t, m.Match("http://[::1]:namedport").Score)
}

func TestSwap(t *testing.T) {
	m := newTestMatcher(t)
	require.True(t, m.Match("https://ads.example/x").Matched())

	err := m.Swap(policy.Signatures{AdDomains: []string{"other.test"}})
	require.NoError(t, err)

	assert.False(t, m.Match("https://ads.example/x").Matched())
	assert.True(t, m.Match("https://other.test/x").Matched())
}

func TestSwapBadRegexKeepsCurrentSet(t *testing.T) {
	m := newTestMatcher(t)

	err := m.Swap(policy.Signatures{TrackingParamShapes: []string{"(["}})
	assert.Error(t, err)

	// The original set still matches.
	assert.True(t, m.Match("https://ads.example/x").Matched())
}
