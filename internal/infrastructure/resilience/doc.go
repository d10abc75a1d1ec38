// Package resilience provides a circuit breaker for fallible collaborators.
//
// The permission cache's durable store and the signature feed fetcher sit
// behind breakers so a dead disk or unreachable feed host degrades to
// in-memory operation instead of stalling every write with fresh failures.
//
// States:
//   - closed: calls pass through; consecutive failures trip the breaker
//   - open: calls fail fast with ErrCircuitOpen until the timeout elapses
//   - half-open: a bounded number of probes decide whether to close again
package resilience
