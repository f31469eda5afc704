// Package api implements the HTTP API of the cold-chain processor.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /api/v1/health                 liveness, package and latch counts
//	GET  /api/v1/packages               live packages with activity and alert state
//	GET  /api/v1/packages/{id}          one package; 404 if never seen
//	GET  /api/v1/packages/{id}/alerts   that package's recent alerts
//	GET  /api/v1/alerts                 recent alerts, newest first (?limit=N)
//	POST /api/v1/telemetry              enqueue one sensor payload
//
// Responses are JSON. Wrong methods get 405.
package api
