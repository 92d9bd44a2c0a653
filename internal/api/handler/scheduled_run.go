package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/jobrunner/internal/api/request"
	"github.com/edvin/jobrunner/internal/api/response"
	"github.com/edvin/jobrunner/internal/core"
)

// ScheduledRun handles schedule management endpoints.
type ScheduledRun struct {
	svc *core.ScheduledRunService
}

func NewScheduledRun(svc *core.ScheduledRunService) *ScheduledRun {
	return &ScheduledRun{svc: svc}
}

// List lists scheduled runs with cursor-based pagination.
func (h *ScheduledRun) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	runs, hasMore, err := h.svc.List(r.Context(), pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(runs) > 0 {
		nextCursor = runs[len(runs)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, runs, nextCursor, hasMore)
}

// Get retrieves a scheduled run by ID.
func (h *ScheduledRun) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, run)
}

// Enable resumes future firings of a schedule.
func (h *ScheduledRun) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable pauses a schedule without deleting it.
func (h *ScheduledRun) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *ScheduledRun) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.SetEnabled(r.Context(), id, enabled); err != nil {
		response.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a schedule, cancelling all future firings. Past results
// are untouched.
func (h *ScheduledRun) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		response.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
