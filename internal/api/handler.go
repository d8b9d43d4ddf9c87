// Package api exposes the engine's read-only status surface. Job CRUD
// lives in the dashboard application, not here.
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"SendWave/internal/scheduler"
)

type Handler struct {
	Active *scheduler.ActiveJobs
	Log    *zap.Logger
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ActiveJobs reports what this instance is working on right now. The
// view is best-effort and process-local; the job records remain the
// source of truth.
func (h *Handler) ActiveJobs(w http.ResponseWriter, r *http.Request) {
	snapshot := h.Active.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"count": len(snapshot),
		"jobs":  snapshot,
	}); err != nil {
		h.Log.Error("failed to encode active jobs", zap.Error(err))
	}
}
