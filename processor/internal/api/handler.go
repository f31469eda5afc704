package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/greendelivery/coldchain/pkg/types"
	"github.com/greendelivery/coldchain/processor/internal/alerts"
	"github.com/greendelivery/coldchain/processor/internal/source"
	"github.com/greendelivery/coldchain/processor/internal/store"
)

// maxPayload bounds a single telemetry POST body.
const maxPayload = 64 << 10

// Deps are the components the API reads from and writes to.
type Deps struct {
	Latest     *store.Latest
	Table      *alerts.Table
	Dispatcher *alerts.Dispatcher
	// Ingest receives payloads posted to /api/v1/telemetry. Nil disables
	// the endpoint.
	Ingest chan<- source.Message
}

// Handler serves the /api/v1 routes.
type Handler struct {
	deps    Deps
	mux     *http.ServeMux
	started time.Time
}

// New creates a Handler with every route registered. Method mismatches are
// answered with 405 by the mux.
func New(deps Deps) http.Handler {
	h := &Handler{deps: deps, mux: http.NewServeMux(), started: time.Now()}

	h.mux.HandleFunc("GET /api/v1/health", h.health)
	h.mux.HandleFunc("GET /api/v1/packages", h.listPackages)
	h.mux.HandleFunc("GET /api/v1/packages/{id}", h.getPackage)
	h.mux.HandleFunc("GET /api/v1/packages/{id}/alerts", h.packageAlerts)
	h.mux.HandleFunc("GET /api/v1/alerts", h.recentAlerts)
	h.mux.HandleFunc("POST /api/v1/telemetry", h.telemetry)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		PackagesLive:  len(h.deps.Latest.List()),
		UptimeSeconds: time.Since(h.started).Seconds(),
	}
	for _, ps := range h.deps.Table.List() {
		resp.PackagesTracked++
		if ps.TempLatched {
			resp.TempLatched++
		}
		if ps.DoorLatched {
			resp.DoorLatched++
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) listPackages(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, BuildPackages(h.deps.Latest, h.deps.Table))
}

func (h *Handler) getPackage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := h.deps.Table.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "package not found")
		return
	}
	resp := PackageResponse{PackageID: id, Alert: st}
	if e, ok := h.deps.Latest.Get(id); ok {
		resp = packageResponse(e, st)
	}
	jsonResp(w, http.StatusOK, resp)
}

// recentAlerts lists the dispatcher's alert history, newest first.
func (h *Handler) recentAlerts(w http.ResponseWriter, r *http.Request) {
	h.writeAlerts(w, r, "")
}

func (h *Handler) packageAlerts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.deps.Table.Get(id); !ok {
		jsonErr(w, http.StatusNotFound, "package not found")
		return
	}
	h.writeAlerts(w, r, id)
}

func (h *Handler) writeAlerts(w http.ResponseWriter, r *http.Request, pkg string) {
	limit, err := queryLimit(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if pkg == "" {
		jsonResp(w, http.StatusOK, h.deps.Dispatcher.Recent(limit))
		return
	}

	out := []alerts.Alert{}
	for _, a := range h.deps.Dispatcher.Recent(0) {
		if a.PackageID != pkg {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	jsonResp(w, http.StatusOK, out)
}

// queryLimit parses ?limit=, where 0 or absent means no limit.
func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

func (h *Handler) telemetry(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ingest == nil {
		jsonErr(w, http.StatusServiceUnavailable, "ingest disabled")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayload))
	if err != nil {
		jsonErr(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	rec, err := types.Decode(body)
	if err != nil {
		slog.Warn("api: rejected malformed telemetry", "remote", r.RemoteAddr, "err", err)
		jsonErr(w, http.StatusBadRequest, "malformed payload")
		return
	}

	err = source.Push(r.Context(), h.deps.Ingest, source.Message{
		Origin:     "http",
		Payload:    body,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		if !errors.Is(err, r.Context().Err()) {
			slog.Warn("api: telemetry not queued", "err", err)
		}
		jsonErr(w, http.StatusServiceUnavailable, "processor busy")
		return
	}
	jsonResp(w, http.StatusAccepted, AcceptedResponse{PackageID: rec.PackageID, Status: "queued"})
}

// BuildPackages joins the live records with their alert state.
// Exported for the WebSocket hub.
func BuildPackages(latest *store.Latest, table *alerts.Table) PackagesResponse {
	entries := latest.List()
	out := make([]PackageResponse, 0, len(entries))
	for _, e := range entries {
		st, _ := table.Get(e.Record.PackageID)
		out = append(out, packageResponse(e, st))
	}
	return PackagesResponse{
		Packages:    out,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func packageResponse(e store.Entry, st alerts.State) PackageResponse {
	return PackageResponse{
		PackageID:  e.Record.PackageID,
		LastRecord: e.Record,
		FirstSeen:  e.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:   e.LastSeen.UTC().Format(time.RFC3339),
		Records:    e.Records,
		Alert:      st,
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
