// Package metrics registers the broker's Prometheus collectors (task
// throughput, queue depth, online agents, scheduling latency, archival
// cycles) and exposes them via Handler for mounting at /management/metrics.
// It also carries a small health/readiness/liveness checker used by the
// HTTP API's /health, /ready and /live endpoints.
package metrics
