package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/leobook/leosync/internal/schema"
	"github.com/leobook/leosync/internal/types"
	"github.com/leobook/leosync/internal/validation"
)

// DefaultSyncLabel labels runs triggered over HTTP without a label.
const DefaultSyncLabel = "manual"

// Syncer runs and reports orchestrated syncs. *sync.Orchestrator
// satisfies it.
type Syncer interface {
	Run(ctx context.Context, label string, audit bool) (types.RunResult, error)
	LastResult() (types.RunResult, bool)
	Tables() []schema.Table
}

// TableDescriber reports the local table files. *store.Store satisfies it.
type TableDescriber interface {
	Describe(synced []schema.Table) []types.TableInfo
}

// Handler implements the API handlers
type Handler struct {
	syncer  Syncer // nil when no remote is configured
	tables  TableDescriber
	apiKey  string
	version string
	driver  string
}

// NewHandler creates a new Handler. syncer may be nil, in which case the
// sync endpoints answer 503.
func NewHandler(syncer Syncer, tables TableDescriber, apiKey, version, driver string) *Handler {
	return &Handler{
		syncer:  syncer,
		tables:  tables,
		apiKey:  apiKey,
		version: version,
		driver:  driver,
	}
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		RemoteDriver: h.driver,
		SyncEnabled:  h.syncer != nil,
	}
	if h.syncer != nil {
		if last, ok := h.syncer.LastResult(); ok {
			finished := last.FinishedAt
			resp.LastSync = &finished
			resp.LastStatus = last.Status
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Tables handles GET /api/v1/tables
func (h *Handler) Tables(w http.ResponseWriter, r *http.Request) {
	var synced []schema.Table
	if h.syncer != nil {
		synced = h.syncer.Tables()
	}
	writeJSON(w, http.StatusOK, h.tables.Describe(synced))
}

// TriggerSync handles POST /api/v1/sync. The run is audited and outlives
// the request so a dropped client does not abort it.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Remote store not configured")
		return
	}

	var req types.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}
	if errs := validation.ValidateSyncRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}
	if req.Label == "" {
		req.Label = DefaultSyncLabel
	}

	start := time.Now()
	res, err := h.syncer.Run(context.WithoutCancel(r.Context()), req.Label, true)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("sync trigger rejected",
				"component", "api",
				"action", "sync_trigger_failed",
				"label", req.Label,
				"error", err,
			)
		}
		MapSyncError(w, r, err)
		return
	}

	slog.Info("sync triggered",
		"component", "api",
		"action", "sync_trigger",
		"label", req.Label,
		"status", res.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, res)
}

// SyncStatus handles GET /api/v1/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Remote store not configured")
		return
	}
	last, ok := h.syncer.LastResult()
	if !ok {
		WriteProblem(w, r, http.StatusNotFound, "No sync has run yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
