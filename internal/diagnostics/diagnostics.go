// Package diagnostics aggregates runtime telemetry for the management API:
// a bounded window of recent risk scores with summary statistics, and the
// protocol fallback ring.
package diagnostics

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/navguard/navguard/internal/protocol"
)

// DefaultWindow is the number of recent risk scores kept.
const DefaultWindow = 256

// Summary describes the recent risk-score distribution.
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	Max   float64 `json:"max"`
}

// Report is the full diagnostics payload.
type Report struct {
	RiskScores Summary                  `json:"risk_scores"`
	Fallbacks  []protocol.FallbackEvent `json:"fallbacks"`
}

// Recorder keeps a sliding window of recent risk scores.
type Recorder struct {
	mu     sync.Mutex
	window []float64
	next   int
	count  int
}

// NewRecorder creates a recorder with the given window size.
func NewRecorder(window int) *Recorder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Recorder{window: make([]float64, window)}
}

// Observe records one risk score, displacing the oldest once full.
func (r *Recorder) Observe(score int) {
	r.mu.Lock()
	r.window[r.next] = float64(score)
	r.next = (r.next + 1) % len(r.window)
	if r.count < len(r.window) {
		r.count++
	}
	r.mu.Unlock()
}

// Summary computes distribution statistics over the current window.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	scores := make([]float64, 0, r.count)
	if r.count == len(r.window) {
		scores = append(scores, r.window...)
	} else {
		scores = append(scores, r.window[:r.count]...)
	}
	r.mu.Unlock()

	if len(scores) == 0 {
		return Summary{}
	}

	sort.Float64s(scores)
	return Summary{
		Count: len(scores),
		Mean:  stat.Mean(scores, nil),
		P50:   stat.Quantile(0.5, stat.Empirical, scores, nil),
		P90:   stat.Quantile(0.9, stat.Empirical, scores, nil),
		Max:   scores[len(scores)-1],
	}
}

// Build assembles the diagnostics report.
func Build(recorder *Recorder, ring *protocol.FallbackRing) Report {
	report := Report{RiskScores: recorder.Summary()}
	if ring != nil {
		report.Fallbacks = ring.Events()
	}
	return report
}
