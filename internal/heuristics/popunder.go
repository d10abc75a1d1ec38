package heuristics

import (
	"strings"
	"time"
)

// Pop-under scoring weights and bounds.
const (
	weightClickCorrelation = 3
	weightSignatureMatch   = 4
	weightAnonymousTarget  = 2
	weightOpenFrequency    = 2

	// FlagThreshold is the score at which a window-open attempt is
	// flagged as a pop-under.
	FlagThreshold = 4
	// MaxPopUnderScore is the sum of all weights.
	MaxPopUnderScore = weightClickCorrelation + weightSignatureMatch +
		weightAnonymousTarget + weightOpenFrequency

	// ClickCorrelationWindow is how soon after a genuine user click a
	// window-open call counts as click-triggered.
	ClickCorrelationWindow = time.Second
	// OpenRateWindow is the sliding window for call-frequency tracking.
	OpenRateWindow = 60 * time.Second
	// OpenRateThreshold is the open count above which frequency scores.
	OpenRateThreshold = 3
)

// PopUnderVerdict is the result of pop-under scoring.
type PopUnderVerdict struct {
	Flagged bool     `json:"flagged"`
	Score   int      `json:"score"`
	Factors []string `json:"factors,omitempty"`
}

// PruneWindow drops open timestamps older than the sliding window. Called
// on every check so the window never grows past what 60 seconds of opens
// can hold.
func PruneWindow(opens []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-OpenRateWindow)
	kept := opens[:0]
	for _, ts := range opens {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// ScorePopUnder scores a window-open attempt for pop-under likelihood.
// Pure and deterministic given its inputs; recentOpens should already
// include the current attempt.
func (m *Matcher) ScorePopUnder(rawURL, windowName string, recentOpens []time.Time, lastInteraction, now time.Time) PopUnderVerdict {
	var v PopUnderVerdict

	if !lastInteraction.IsZero() {
		since := now.Sub(lastInteraction)
		if since >= 0 && since <= ClickCorrelationWindow {
			v.Score += weightClickCorrelation
			v.Factors = append(v.Factors, "click-correlation")
		}
	}

	if m.Match(rawURL).Matched() {
		v.Score += weightSignatureMatch
		v.Factors = append(v.Factors, "malicious-signature")
	}

	name := strings.TrimSpace(windowName)
	if name == "" || name == "_blank" {
		v.Score += weightAnonymousTarget
		v.Factors = append(v.Factors, "anonymous-target")
	}

	if len(PruneWindow(recentOpens, now)) > OpenRateThreshold {
		v.Score += weightOpenFrequency
		v.Factors = append(v.Factors, "open-frequency")
	}

	v.Flagged = v.Score >= FlagThreshold
	return v
}
