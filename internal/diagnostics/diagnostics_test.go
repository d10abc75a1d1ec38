package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/navguard/navguard/internal/protocol"
)

func TestEmptyRecorder(t *testing.T) {
	r := NewRecorder(8)
	s := r.Summary()
	assert.Equal(t, 0, s.Count)
	assert.Zero(t, s.Mean)
}

func TestSummaryStatistics(t *testing.T) {
	r := NewRecorder(16)
	for _, score := range []int{0, 2, 4, 6, 8} {
		r.Observe(score)
	}

	s := r.Summary()
	assert.Equal(t, 5, s.Count)
	assert.InDelta(t, 4.0, s.Mean, 1e-9)
	assert.InDelta(t, 4.0, s.P50, 1e-9)
	assert.InDelta(t, 8.0, s.Max, 1e-9)
	assert.GreaterOrEqual(t, s.P90, s.P50)
}

func TestWindowSlides(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 10; i++ {
		r.Observe(0)
	}
	for i := 0; i < 3; i++ {
		r.Observe(9)
	}

	s := r.Summary()
	assert.Equal(t, 3, s.Count, "window holds only the most recent scores")
	assert.InDelta(t, 9.0, s.Mean, 1e-9)
}

func TestBuildIncludesFallbacks(t *testing.T) {
	r := NewRecorder(8)
	r.Observe(5)

	ring := protocol.NewFallbackRing(4)
	ring.Add(protocol.FallbackEvent{URL: "https://x.com", Reason: "fail-closed"})

	report := Build(r, ring)
	assert.Equal(t, 1, report.RiskScores.Count)
	assert.Len(t, report.Fallbacks, 1)
	assert.Equal(t, "https://x.com", report.Fallbacks[0].URL)

	report = Build(r, nil)
	assert.Empty(t, report.Fallbacks)
}
