// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Logical connection counts by lifecycle state
//   - Connect attempt outcomes and durations
//   - Reconnect scheduling and exhaustion
//   - Outbound send results and queue overflow drops
//   - Dispatched events and failing subscriber handlers
package metrics
