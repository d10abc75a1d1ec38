package id

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateUnique(t *testing.T) {
	g := NewGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s := g.GenerateString()
		if seen[s] {
			t.Fatalf("duplicate ULID generated: %s", s)
		}
		seen[s] = true
	}
}

func TestPrefixes(t *testing.T) {
	if !strings.HasPrefix(NewCorrelationID().String(), "corr_") {
		t.Error("correlation ID should carry corr_ prefix")
	}
	if !strings.HasPrefix(NewPlaceholderID().String(), "plc_") {
		t.Error("placeholder ID should carry plc_ prefix")
	}
	if !strings.HasPrefix(NewArbitrationID().String(), "arb_") {
		t.Error("arbitration ID should carry arb_ prefix")
	}
}

func TestSortableByTime(t *testing.T) {
	g := NewGenerator()
	first := g.GenerateString()
	time.Sleep(2 * time.Millisecond)
	second := g.GenerateString()

	if !(first < second) {
		t.Errorf("ULIDs should sort by creation time: %s >= %s", first, second)
	}
}

func TestTimestamp(t *testing.T) {
	g := NewGenerator()
	before := time.Now().Add(-time.Second)
	s := g.GenerateString()
	after := time.Now().Add(time.Second)

	ts, err := Timestamp(s)
	if err != nil {
		t.Fatalf("Timestamp failed: %v", err)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp %v outside expected range", ts)
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid(NewGenerator().GenerateString()) {
		t.Error("generated ULID should validate")
	}
	if IsValid("not-a-ulid") {
		t.Error("garbage should not validate")
	}
}
