package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/jobrunner/internal/api/middleware"
	"github.com/edvin/jobrunner/internal/api/request"
	"github.com/edvin/jobrunner/internal/api/response"
	"github.com/edvin/jobrunner/internal/core"
)

// Approval handles approval workflow endpoints.
type Approval struct {
	svc *core.ApprovalService
}

func NewApproval(svc *core.ApprovalService) *Approval {
	return &Approval{svc: svc}
}

func approverFrom(r *http.Request) core.Approver {
	identity := mw.GetIdentity(r.Context())
	if identity == nil {
		return core.Approver{}
	}
	return core.Approver{Name: identity.UserName, Groups: identity.Groups}
}

// List lists approval stages visible to the caller. With
// pending_approvals=true only stages the caller can act on right now are
// returned.
func (h *Approval) List(w http.ResponseWriter, r *http.Request) {
	pendingOnly := r.URL.Query().Get("pending_approvals") == "true"

	stages, err := h.svc.ListForApprover(r.Context(), approverFrom(r), pendingOnly)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, stages)
}

// ListByRun lists the stages of one scheduled run's workflow in order.
func (h *Approval) ListByRun(w http.ResponseWriter, r *http.Request) {
	runID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	stages, err := h.svc.ListStages(r.Context(), runID)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, stages)
}

// Approve approves one stage as the calling user.
func (h *Approval) Approve(w http.ResponseWriter, r *http.Request) {
	stageID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ApprovalAction
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Approve(r.Context(), stageID, approverFrom(r), req.Comment, req.Confirm); err != nil {
		response.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deny denies one stage, terminally, as the calling user.
func (h *Approval) Deny(w http.ResponseWriter, r *http.Request) {
	stageID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ApprovalAction
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Deny(r.Context(), stageID, approverFrom(r), req.Comment); err != nil {
		response.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Comment records a note on a stage without changing its state.
func (h *Approval) Comment(w http.ResponseWriter, r *http.Request) {
	stageID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ApprovalComment
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Comment(r.Context(), stageID, approverFrom(r).Name, req.Text); err != nil {
		response.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
