// Package server assembles and runs the arbitration broker.
//
// This package orchestrates all components:
//   - HTTP routing with Gin (management API, metrics, bridge endpoint)
//   - Middleware stack (CORS, request metrics, recovery)
//   - Permission cache with durable snapshots
//   - Signature matcher and feed updater
//   - Arbitration service and confirmation surface
//
// Broker lifecycle:
//  1. Load configuration from environment/file
//  2. Initialize logger (production or development)
//  3. Open the durable store and restore the permission cache
//  4. Build matcher, whitelist, arbiter and bridge
//  5. Start the signature feed updater
//  6. Serve HTTP until a shutdown signal
//  7. On shutdown: stop the feed, close connections, final cache flush
package server
