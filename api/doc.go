// Package api defines the wire types of the fedflow HTTP API.
//
// The server exposes a RESTful API for:
//   - Experiment submission (algo + strategy + participants)
//   - Compute plan inspection (status, task counts, authorized orgs)
//   - Round performance results per organization and metric
//   - Organization registration and worker heartbeats
//   - Live plan progress over WebSocket
//
// # Authentication
//
// Worker-facing endpoints accept a bearer token issued at registration
// time:
//
//	Authorization: Bearer <token>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
