package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/jobrunner/internal/api/request"
	"github.com/edvin/jobrunner/internal/api/response"
	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/platform"
)

// Queue handles queue directory endpoints.
type Queue struct {
	svc *core.QueueService
}

func NewQueue(svc *core.QueueService) *Queue {
	return &Queue{svc: svc}
}

// List lists all queues.
func (h *Queue) List(w http.ResponseWriter, r *http.Request) {
	queues, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, queues)
}

// Create registers a new queue.
func (h *Queue) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateQueue
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	queue := &model.Queue{
		ID:          platform.NewID(),
		Name:        req.Name,
		BackendType: req.BackendType,
		TenantID:    req.TenantID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.svc.Create(r.Context(), queue); err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, queue)
}

// Get retrieves a queue by ID.
func (h *Queue) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	queue, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, queue)
}
