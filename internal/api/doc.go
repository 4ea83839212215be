// Package api hosts the HTTP server that answers searches against a built
// index. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes; readyz reports 503 until
//     the index build has finished.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/search?q=term&limit=n for ranked matches.
//   - GET /v1/stats for the counters of the last build.
package api
