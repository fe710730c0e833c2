/*
Package handlers implements the request handlers of the fedflow HTTP
API: experiment submission, compute plan inspection, round
performances, organization registration and heartbeats, health probes,
and live progress streaming over WebSocket.

# Core types

  - ExperimentHandler — experiment submission and background execution
  - PlanHandler       — plan metadata and round performance endpoints
  - OrgHandler        — organization registration, listing, heartbeats
  - HealthHandler     — liveness and readiness probes with pluggable checks
  - ProgressHandler   — per-plan WebSocket progress stream fed by ProgressHub
  - Response          — unified JSON envelope (success + data + error + timestamp)

All handlers follow the standard net/http interface. Responses are
written through WriteSuccess / WriteError, which map structured error
codes to HTTP statuses.
*/
package handlers
