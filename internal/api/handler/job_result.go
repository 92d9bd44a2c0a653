package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/jobrunner/internal/api/request"
	"github.com/edvin/jobrunner/internal/api/response"
	"github.com/edvin/jobrunner/internal/core"
)

// JobResult handles result and log endpoints.
type JobResult struct {
	results *core.JobResultService
	logs    *core.JobLogService
}

func NewJobResult(results *core.JobResultService, logs *core.JobLogService) *JobResult {
	return &JobResult{results: results, logs: logs}
}

// ListByJob lists results of one job, newest first, with cursor-based
// pagination.
func (h *JobResult) ListByJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	pg := request.ParsePagination(r)

	results, hasMore, err := h.results.ListByJob(r.Context(), jobID, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(results) > 0 {
		nextCursor = results[len(results)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, results, nextCursor, hasMore)
}

// Get retrieves one result by ID.
func (h *JobResult) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.results.GetByID(r.Context(), id)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, result)
}

// Logs returns the log entries of one result. after_id makes the call
// incremental so a client can tail a running task by polling.
func (h *JobResult) Logs(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var afterID int64
	if raw := r.URL.Query().Get("after_id"); raw != "" {
		afterID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid after_id")
			return
		}
	}

	entries, err := h.logs.ListByResult(r.Context(), id, afterID)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, entries)
}
