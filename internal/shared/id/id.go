// Package id provides centralized ID generation for the navigation guard.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: pending-request tables evict oldest-first
//     by comparing IDs, no extra timestamp bookkeeping
//   - Prefixed types: type-specific prefixes for debugging (corr_*, plc_*, arb_*)
//   - Type safety: separate types prevent ID misuse across subsystems
//   - Performance: ~2μs per ULID, safe for the synchronous decision path
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// CorrelationID ties a protocol CHECK request to its RESPONSE
type CorrelationID string

// PlaceholderID identifies a pending navigation placeholder
type PlaceholderID string

// ArbitrationID identifies one arbitration flow on the broker
type ArbitrationID string

// Prefixes for type identification in logs.
const (
	CorrelationPrefix = "corr"
	PlaceholderPrefix = "plc"
	ArbitrationPrefix = "arb"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewCorrelationID generates a correlation ID for one protocol round trip
func NewCorrelationID() CorrelationID {
	return CorrelationID(Default().GenerateWithPrefix(CorrelationPrefix))
}

// NewPlaceholderID generates a placeholder ID
func NewPlaceholderID() PlaceholderID {
	return PlaceholderID(Default().GenerateWithPrefix(PlaceholderPrefix))
}

// NewArbitrationID generates an arbitration ID
func NewArbitrationID() ArbitrationID {
	return ArbitrationID(Default().GenerateWithPrefix(ArbitrationPrefix))
}

// String methods for ID types
func (id CorrelationID) String() string { return string(id) }
func (id PlaceholderID) String() string { return string(id) }
func (id ArbitrationID) String() string { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the creation time from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
