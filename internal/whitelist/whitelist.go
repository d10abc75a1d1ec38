// Package whitelist holds operator-managed origin patterns that bypass
// arbitration entirely. Patterns are glob-style and matched against
// normalized origins, e.g. "https://*.corp.example.com" or "https://cdn.*".
package whitelist

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/navguard/navguard/internal/origin"
)

// Whitelist is a concurrency-safe set of origin patterns.
type Whitelist struct {
	mu       sync.RWMutex
	patterns map[string]struct{}
}

// New creates a whitelist seeded with the given patterns. Invalid patterns
// are rejected.
func New(patterns []string) (*Whitelist, error) {
	w := &Whitelist{patterns: make(map[string]struct{}, len(patterns))}
	for _, p := range patterns {
		if err := w.Add(p); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Add inserts a pattern. Adding an existing pattern is a no-op.
func (w *Whitelist) Add(pattern string) error {
	pattern = strings.TrimSpace(strings.ToLower(pattern))
	if pattern == "" {
		return fmt.Errorf("empty whitelist pattern")
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid whitelist pattern %q", pattern)
	}

	w.mu.Lock()
	w.patterns[pattern] = struct{}{}
	w.mu.Unlock()
	return nil
}

// Remove deletes a pattern, reporting whether it was present.
func (w *Whitelist) Remove(pattern string) bool {
	pattern = strings.TrimSpace(strings.ToLower(pattern))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.patterns[pattern]; !ok {
		return false
	}
	delete(w.patterns, pattern)
	return true
}

// Patterns returns the current patterns, sorted.
func (w *Whitelist) Patterns() []string {
	w.mu.RLock()
	out := make([]string, 0, len(w.patterns))
	for p := range w.patterns {
		out = append(out, p)
	}
	w.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Matches reports whether the URL's normalized origin matches any pattern.
func (w *Whitelist) Matches(rawURL string) bool {
	target, err := origin.Normalize(rawURL)
	if err != nil || target == "" {
		return false
	}
	target = strings.ToLower(target)

	w.mu.RLock()
	defer w.mu.RUnlock()
	for pattern := range w.patterns {
		if ok, err := doublestar.Match(pattern, target); err == nil && ok {
			return true
		}
	}
	return false
}
