package api

import (
	"github.com/greendelivery/coldchain/pkg/types"
	"github.com/greendelivery/coldchain/processor/internal/alerts"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status          string  `json:"status"`
	PackagesTracked int     `json:"packages_tracked"`
	PackagesLive    int     `json:"packages_live"`
	TempLatched     int     `json:"temp_alerts_latched"`
	DoorLatched     int     `json:"door_alerts_latched"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// PackageResponse is one package in GET /api/v1/packages or
// GET /api/v1/packages/{id}.
type PackageResponse struct {
	PackageID  string        `json:"package_id"`
	LastRecord *types.Record `json:"last_record,omitempty"`
	FirstSeen  string        `json:"first_seen,omitempty"` // RFC3339
	LastSeen   string        `json:"last_seen,omitempty"`  // RFC3339
	Records    uint64        `json:"records,omitempty"`
	Alert      alerts.State  `json:"alert_state"`
}

// PackagesResponse wraps the package list with its generation time.
type PackagesResponse struct {
	Packages    []PackageResponse `json:"packages"`
	GeneratedAt string            `json:"generated_at"` // RFC3339
}

// AcceptedResponse is returned by POST /api/v1/telemetry.
type AcceptedResponse struct {
	PackageID string `json:"package_id"`
	Status    string `json:"status"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
