package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/events"
	"github.com/edvin/jobrunner/internal/lock"
	"github.com/edvin/jobrunner/internal/metrics"
	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/platform"
	"github.com/edvin/jobrunner/internal/registry"
)

// Backend submits one task for execution. Worker-pool submission is
// fire-and-forget; the pod backend drives the execution itself on an
// internal goroutine and returns as soon as the task is accepted.
type Backend interface {
	Type() string
	Submit(ctx context.Context, task Task) error
}

// Locker is the concurrency guard surface the dispatcher needs.
type Locker interface {
	Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, error)
	Release(ctx context.Context, jobID, token string) error
}

// minLockTTL floors the singleton lock expiry. A job with no configured
// hard time limit must not hand out a lock that never expires; a crashed
// holder would starve every future run.
const minLockTTL = time.Minute

// Request describes one dispatch. Args must already be validated by the
// registry; Queue is the raw requested queue name, empty for the job's
// default.
type Request struct {
	JobID          string
	Queue          string
	Args           map[string]any
	RequestedBy    string
	ScheduledRunID *string
	DryRun         bool
	// ResultID pre-allocates the JobResult id. The API sets it when file
	// inputs were stored under the id before dispatch; empty means a
	// fresh id.
	ResultID string
}

// Dispatcher routes a dispatch request to the backend behind the job's
// resolved queue, creating the JobResult and taking the singleton lock on
// the way.
type Dispatcher struct {
	registry *registry.Registry
	queues   *core.QueueService
	results  *core.JobResultService
	logs     *core.JobLogService
	locker   Locker
	events   EventPublisher
	backends map[string]Backend
	logger   zerolog.Logger
}

func NewDispatcher(reg *registry.Registry, queues *core.QueueService, results *core.JobResultService,
	logs *core.JobLogService, locker Locker, ev EventPublisher, logger zerolog.Logger, backends ...Backend) *Dispatcher {

	byType := make(map[string]Backend, len(backends))
	for _, b := range backends {
		byType[b.Type()] = b
	}
	return &Dispatcher{
		registry: reg,
		queues:   queues,
		results:  results,
		logs:     logs,
		locker:   locker,
		events:   ev,
		backends: byType,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch validates preconditions, creates the pending JobResult, and
// submits the task. On a singleton job the lock must be acquired first;
// failure to acquire is surfaced synchronously as ErrSingletonConflict
// with no queuing or waiting.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*model.JobResult, error) {
	def, err := d.registry.Definition(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if !def.Enabled {
		return nil, core.Validationf("job %q is disabled", def.ID)
	}

	queue, err := d.queues.Resolve(ctx, def, req.Queue)
	if err != nil {
		return nil, err
	}
	backend, ok := d.backends[queue.BackendType]
	if !ok {
		return nil, &core.BackendError{Backend: queue.BackendType,
			Err: fmt.Errorf("no backend registered for queue %q", queue.Name)}
	}

	var token string
	if def.IsSingleton {
		ttl := def.HardTimeLimit()
		if ttl < minLockTTL {
			ttl = minLockTTL
		}
		token, err = d.locker.Acquire(ctx, def.ID, ttl)
		if err != nil {
			if errors.Is(err, lock.ErrConflict) {
				return nil, fmt.Errorf("job %q: %w", def.ID, core.ErrSingletonConflict)
			}
			return nil, err
		}
	}

	args, err := json.Marshal(req.Args)
	if err != nil {
		d.releaseLock(ctx, def.ID, token)
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}

	resultID := req.ResultID
	if resultID == "" {
		resultID = platform.NewID()
	}
	result := &model.JobResult{
		ID:             resultID,
		JobID:          def.ID,
		ScheduledRunID: req.ScheduledRunID,
		RequestedBy:    req.RequestedBy,
		QueueName:      queue.Name,
		Arguments:      args,
		DryRun:         req.DryRun,
	}
	if err := d.results.Create(ctx, result); err != nil {
		d.releaseLock(ctx, def.ID, token)
		return nil, err
	}

	task := Task{
		ResultID:             result.ID,
		JobID:                def.ID,
		JobName:              def.Name,
		Queue:                queue.Name,
		Args:                 req.Args,
		RequestedBy:          req.RequestedBy,
		DryRun:               req.DryRun,
		SoftTimeLimitSeconds: def.SoftTimeLimitSeconds,
		HardTimeLimitSeconds: def.HardTimeLimitSeconds,
		LockToken:            token,
	}
	if err := backend.Submit(ctx, task); err != nil {
		metrics.DispatchesTotal.WithLabelValues(backend.Type(), "error").Inc()
		d.failSubmit(ctx, task, err)
		d.releaseLock(ctx, def.ID, token)
		return nil, &core.BackendError{Backend: backend.Type(), Err: err}
	}

	metrics.DispatchesTotal.WithLabelValues(backend.Type(), "submitted").Inc()
	d.logger.Info().
		Str("job_id", def.ID).
		Str("job_result_id", result.ID).
		Str("queue", queue.Name).
		Str("backend", backend.Type()).
		Msg("task dispatched")
	return result, nil
}

// failSubmit records a submission failure on the result: status errored
// plus an error-level log entry with the captured detail. No retry. A
// result that never reached a backend still went terminal here, so the
// completion event is published from this path.
func (d *Dispatcher) failSubmit(ctx context.Context, task Task, cause error) {
	won, err := d.results.Fail(ctx, task.ResultID, cause.Error())
	if err != nil {
		d.logger.Error().Err(err).Str("job_result_id", task.ResultID).Msg("mark result errored")
	}
	entry := &model.JobLogEntry{
		JobResultID: task.ResultID,
		Level:       model.LogError,
		Message:     fmt.Sprintf("submission failed: %v", cause),
	}
	if err := d.logs.Append(ctx, entry); err != nil {
		d.logger.Error().Err(err).Str("job_result_id", task.ResultID).Msg("append failure log entry")
	}
	if won {
		d.events.Publish(ctx, events.TopicJobCompleted, map[string]any{
			"job_id":        task.JobID,
			"job_name":      task.JobName,
			"job_result_id": task.ResultID,
			"status":        model.StatusErrored,
			"user":          task.RequestedBy,
			"einfo":         cause.Error(),
		})
	}
}

func (d *Dispatcher) releaseLock(ctx context.Context, jobID, token string) {
	if token == "" {
		return
	}
	if err := d.locker.Release(ctx, jobID, token); err != nil {
		d.logger.Error().Err(err).Str("job_id", jobID).Msg("release singleton lock")
	}
}
