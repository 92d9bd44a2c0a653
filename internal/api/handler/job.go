package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/jobrunner/internal/api/middleware"
	"github.com/edvin/jobrunner/internal/api/request"
	"github.com/edvin/jobrunner/internal/api/response"
	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/dispatch"
	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/platform"
	"github.com/edvin/jobrunner/internal/registry"
)

// Dispatcher submits a validated run for execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*model.JobResult, error)
}

// FileSaver stores an uploaded file-typed variable and returns its key.
type FileSaver interface {
	SaveInput(ctx context.Context, resultID, varName, filename string, data []byte) (string, error)
}

// Job handles job definition and run endpoints.
type Job struct {
	registry   *registry.Registry
	jobs       *core.JobDefinitionService
	queues     *core.QueueService
	runs       *core.ScheduledRunService
	dispatcher Dispatcher
	files      FileSaver
}

func NewJob(reg *registry.Registry, jobs *core.JobDefinitionService, queues *core.QueueService,
	runs *core.ScheduledRunService, dispatcher Dispatcher, files FileSaver) *Job {
	return &Job{
		registry:   reg,
		jobs:       jobs,
		queues:     queues,
		runs:       runs,
		dispatcher: dispatcher,
		files:      files,
	}
}

// List lists job definitions with cursor-based pagination.
func (h *Job) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	jobs, hasMore, err := h.jobs.List(r.Context(), pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(jobs) > 0 {
		nextCursor = jobs[len(jobs)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, jobs, nextCursor, hasMore)
}

// Get retrieves a job definition by ID.
func (h *Job) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, job)
}

// Update changes the display name and description of a job.
func (h *Job) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateJob
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.jobs.UpdateDisplay(r.Context(), id, req.Name, req.Description); err != nil {
		response.WriteDomainError(w, err)
		return
	}
	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, job)
}

// Enable marks a job definition as runnable.
func (h *Job) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable blocks new runs and schedules of a job.
func (h *Job) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Job) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.jobs.SetEnabled(r.Context(), id, enabled); err != nil {
		response.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDefaultQueue assigns or clears the job's default queue.
func (h *Job) SetDefaultQueue(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.SetDefaultQueue
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.jobs.SetDefaultQueue(r.Context(), id, req.QueueID); err != nil {
		response.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListQueues lists the queues a job may run on.
func (h *Job) ListQueues(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	queues, err := h.queues.EligibleQueues(r.Context(), id)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, queues)
}

// AssignQueue links a job to a queue.
func (h *Job) AssignQueue(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.AssignQueue
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	assignment, err := h.queues.Assign(r.Context(), id, req.QueueID)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, assignment)
}

// UnassignQueue removes a job-queue link.
func (h *Job) UnassignQueue(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	queueID, err := request.RequireID(chi.URLParam(r, "queueID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.queues.Unassign(r.Context(), id, queueID); err != nil {
		response.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run executes a job now or persists a schedule for it. Immediate runs
// of approval-free jobs return 201 with the pending JobResult; anything
// that needs a schedule entry or an approval workflow returns 202 with
// the ScheduledRun.
func (h *Job) Run(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := request.ParseRunJob(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	// File parts validate as plain strings; the stored key replaces the
	// filename after validation.
	for name, f := range req.Files {
		req.Data[name] = f.Filename
	}

	args, err := h.registry.ValidateInputs(r.Context(), id, req.Data)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	def, err := h.registry.Definition(r.Context(), id)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	resultID := ""
	if len(req.Files) > 0 {
		resultID = platform.NewID()
		for name, f := range req.Files {
			key, err := h.files.SaveInput(r.Context(), resultID, name, f.Filename, f.Content)
			if err != nil {
				response.WriteDomainError(w, err)
				return
			}
			args[name] = key
		}
	}

	dryRun := def.DryRunDefault
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	identity := mw.GetIdentity(r.Context())
	requestedBy := ""
	if identity != nil {
		requestedBy = identity.UserName
	}

	if req.Schedule != nil || def.ApprovalRequired {
		h.schedule(w, r, def, req, args, dryRun, requestedBy)
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), dispatch.Request{
		JobID:       id,
		Queue:       req.Queue,
		Args:        args,
		RequestedBy: requestedBy,
		DryRun:      dryRun,
		ResultID:    resultID,
	})
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, result)
}

func (h *Job) schedule(w http.ResponseWriter, r *http.Request, def *model.JobDefinition,
	req *request.RunJob, args map[string]any, dryRun bool, requestedBy string) {

	interval := model.IntervalImmediate
	run := &model.ScheduledRun{
		ID:          platform.NewID(),
		JobID:       def.ID,
		RequestedBy: requestedBy,
		DryRun:      dryRun,
	}
	if req.Schedule != nil {
		interval = req.Schedule.Interval
		run.Name = req.Schedule.Name
		run.StartTime = req.Schedule.StartTime
		run.Crontab = req.Schedule.Crontab
		run.TimeZone = req.Schedule.TimeZone
	}
	run.Interval = interval

	if req.Queue != "" {
		queue, err := h.queues.Resolve(r.Context(), def, req.Queue)
		if err != nil {
			response.WriteDomainError(w, err)
			return
		}
		run.QueueID = &queue.ID
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	run.Arguments = encoded

	var approverGroups []string
	if runner, err := h.registry.Lookup(def.ID); err == nil {
		approverGroups = runner.Meta().ApproverGroups
	}

	if err := h.runs.Create(r.Context(), run, def, approverGroups); err != nil {
		response.WriteDomainError(w, err)
		return
	}

	created, err := h.runs.GetByID(r.Context(), run.ID)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, created)
}
