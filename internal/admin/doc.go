// Package admin serves the operator API of fixie-bridge.
//
// # Endpoints
//
// Unauthenticated:
//
//   - GET /healthz - liveness plus the current maintenance flag
//   - GET /metrics - Prometheus exposition
//
// Bearer JWT required (tokens come from `fixie-admin token`):
//
//   - GET /api/users - list registered users (?limit=)
//   - GET /api/users/{id} - one user and their agent binding
//   - DELETE /api/users/{id} - delete the user and their remote agent
//   - GET /api/users/{id}/deliveries - recent delivery records (?limit=)
//   - POST /api/profiles/reload - re-read the profile catalog
//   - GET /api/queue - pending messages per user
//
// # Listeners
//
// The API listens on admin.http_addr, or only on the tailnet through an
// embedded tsnet node when admin.tailscale.enabled is set.
package admin
