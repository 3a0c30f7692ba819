// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Replay session lifecycle (created, active, finished by result)
//   - Client connections accepted and rejected by reason
//   - Messages and bytes delivered to replay clients
//   - Recorder throughput, batch inserts and write errors
package metrics
