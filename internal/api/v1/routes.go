// Package v1 provides the job management endpoints of the recordsync API.
package v1

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/recordsync/internal/api/common"
	"github.com/stacklok/recordsync/internal/status"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/sync/coordinator"
)

// JobListResponse lists the status of every configured job
type JobListResponse struct {
	Jobs  []*status.SyncStatus `json:"jobs"`
	Count int                  `json:"count"`
}

// SyncErrorResponse is returned when a manual cycle fails. Result holds the
// BatchResult of the aborted cycle when the cycle got far enough to build one.
type SyncErrorResponse struct {
	Error  string               `json:"error"`
	Result *pkgsync.BatchResult `json:"result,omitempty"`
}

// Routes handles HTTP requests for the job endpoints
type Routes struct {
	coordinator coordinator.Coordinator
}

// NewRoutes creates a new Routes instance
func NewRoutes(coord coordinator.Coordinator) *Routes {
	return &Routes{coordinator: coord}
}

// Router creates the router for the job endpoints
func Router(coord coordinator.Coordinator) http.Handler {
	routes := NewRoutes(coord)

	r := chi.NewRouter()
	r.Get("/jobs", routes.listJobs)
	r.Route("/jobs/{name}", func(r chi.Router) {
		r.Get("/", routes.getJob)
		r.Post("/sync", routes.syncJob)
		r.Post("/reset", routes.resetJob)
	})
	return r
}

// listJobs handles GET /v1/jobs
func (routes *Routes) listJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := routes.coordinator.Statuses()
	common.WriteJSONResponse(w, JobListResponse{Jobs: jobs, Count: len(jobs)}, http.StatusOK)
}

// getJob handles GET /v1/jobs/{name}
func (routes *Routes) getJob(w http.ResponseWriter, r *http.Request) {
	name, err := common.GetAndValidateURLParam(r, "name")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	st, err := routes.coordinator.Status(name)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), common.StatusForError(err))
		return
	}
	common.WriteJSONResponse(w, st, http.StatusOK)
}

// syncJob handles POST /v1/jobs/{name}/sync?since=YYYY-MM-DD[&until=YYYY-MM-DD]
//
// The cycle runs synchronously and the response carries the same BatchResult a
// scheduled cycle records. A rejected query answers 400 with the unsuccessful
// result; a cycle-fatal error answers with SyncErrorResponse.
func (routes *Routes) syncJob(w http.ResponseWriter, r *http.Request) {
	name, err := common.GetAndValidateURLParam(r, "name")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := routes.coordinator.Trigger(r.Context(), name, common.ParseQuery(r))
	if err != nil {
		code := common.StatusForError(err)
		if code >= http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "Manual sync request failed", "job", name, "error", err)
		}
		common.WriteJSONResponse(w, SyncErrorResponse{Error: err.Error(), Result: result}, code)
		return
	}
	if result == nil {
		common.WriteErrorResponse(w, "sync cycle returned no result", http.StatusInternalServerError)
		return
	}
	if !result.Success {
		common.WriteJSONResponse(w, result, http.StatusBadRequest)
		return
	}
	common.WriteJSONResponse(w, result, http.StatusOK)
}

// resetJob handles POST /v1/jobs/{name}/reset
func (routes *Routes) resetJob(w http.ResponseWriter, r *http.Request) {
	name, err := common.GetAndValidateURLParam(r, "name")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := routes.coordinator.Reset(r.Context(), name); err != nil {
		common.WriteErrorResponse(w, err.Error(), common.StatusForError(err))
		return
	}
	common.WriteJSONResponse(w, map[string]string{"status": "reset", "job": name}, http.StatusAccepted)
}
