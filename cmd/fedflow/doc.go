/*
Package main provides the fedflow server entrypoint.

cmd/fedflow is the executable of the fedflow coordination service. It
serves the HTTP API (experiment submission, organizations, compute
plans, round performances, progress streaming), runs database
migrations, and answers health and version queries.

# Core types

  - Server     — wires registry, state store, results database, and both
    HTTP servers (API and Prometheus metrics), with graceful shutdown
  - Middleware — func(http.Handler) http.Handler, chained outermost-first

# Capabilities

  - Subcommands: serve, migrate, version, health
  - Middleware chain: Recovery, RequestID, SecurityHeaders,
    RequestLogger, MetricsMiddleware, OTelTracing, RateLimiter (per IP)
  - Metrics server: separate port exposing /metrics (Prometheus)
  - Graceful shutdown: signal → stop sweeper → drain HTTP → close stores
  - Build injection: Version, BuildTime, GitCommit via ldflags
*/
package main
