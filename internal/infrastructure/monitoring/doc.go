// Package monitoring provides Prometheus metrics for the broker.
//
// Collectors cover the decision layer (outcomes, latency), the permission
// cache (hits, evictions, expiry, size), arbitration (resolutions, pending
// count), the cross-context protocol (messages, fallbacks, duplicate
// suppression) and the HTTP management API.
//
// Example Usage:
//
//	metrics := monitoring.NewMetrics()
//	router.Use(monitoring.Middleware(metrics))
//	metrics.RecordDecision("BLOCK", "pop-under", elapsed)
package monitoring
