package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/dispatch"
	"github.com/edvin/jobrunner/internal/events"
	"github.com/edvin/jobrunner/internal/metrics"
	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/registry"
)

// Outcome classifies one execution attempt.
type Outcome int

const (
	// OutcomeSkipped means another delivery already claimed the result.
	OutcomeSkipped Outcome = iota
	OutcomeCompleted
	OutcomeErrored
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCompleted:
		return "completed"
	case OutcomeErrored:
		return "errored"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// EventPublisher mirrors events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload map[string]any)
}

// Executor runs one task envelope in-process: it claims the result row,
// invokes the registered job body under the task's time limits, records
// the outcome and releases the singleton lock. Both the broker consumer
// and the pod entrypoint drive executions through it.
type Executor struct {
	registry *registry.Registry
	results  *core.JobResultService
	logs     *core.JobLogService
	locker   dispatch.Locker
	events   EventPublisher
	logger   zerolog.Logger
}

func NewExecutor(reg *registry.Registry, results *core.JobResultService, logs *core.JobLogService,
	locker dispatch.Locker, ev EventPublisher, logger zerolog.Logger) *Executor {
	return &Executor{
		registry: reg,
		results:  results,
		logs:     logs,
		locker:   locker,
		events:   ev,
		logger:   logger.With().Str("component", "executor").Logger(),
	}
}

// Execute runs the task to a terminal outcome. It never returns an
// error: every failure mode ends in a finalized result row, so redelivery
// of the same envelope is a no-op.
func (e *Executor) Execute(ctx context.Context, task dispatch.Task) Outcome {
	logger := e.logger.With().
		Str("job_id", task.JobID).
		Str("job_result_id", task.ResultID).
		Logger()

	defer e.releaseLock(ctx, task)

	runner, err := e.registry.Lookup(task.JobID)
	if err != nil {
		res := e.failExec(ctx, task, OutcomeErrored,
			fmt.Sprintf("job %q is not registered in this worker", task.JobID))
		if res.finalized {
			e.publishCompleted(ctx, task, res)
		}
		return OutcomeErrored
	}

	won, err := e.results.MarkRunning(ctx, task.ResultID)
	if err != nil {
		logger.Error().Err(err).Msg("claim result row")
		return OutcomeSkipped
	}
	if !won {
		logger.Info().Msg("result already claimed, skipping delivery")
		return OutcomeSkipped
	}

	e.events.Publish(ctx, events.TopicJobStarted, map[string]any{
		"job_id":        task.JobID,
		"job_result_id": task.ResultID,
		"queue":         task.Queue,
	})

	metrics.RunningTasks.Inc()
	soft, hard := e.limits(task, runner.Meta())
	res := e.run(ctx, task, runner, soft, hard, logger)
	metrics.RunningTasks.Dec()
	metrics.TaskOutcomes.WithLabelValues(res.outcome.String()).Inc()

	// A lost terminal transition means someone else finalized the row,
	// usually a cancellation; they own the completion event.
	if res.finalized {
		e.publishCompleted(ctx, task, res)
	}
	return res.outcome
}

// publishCompleted emits the terminal lifecycle event. The payload
// mirrors the stored result row: job_output on success, einfo on
// failure, always the requesting user.
func (e *Executor) publishCompleted(ctx context.Context, task dispatch.Task, res execution) {
	payload := map[string]any{
		"job_id":        task.JobID,
		"job_name":      task.JobName,
		"job_result_id": task.ResultID,
		"status":        outcomeStatus(res.outcome),
		"user":          task.RequestedBy,
	}
	if res.outcome == OutcomeCompleted {
		payload["job_output"] = res.output
	} else {
		payload["einfo"] = res.einfo
	}
	e.events.Publish(ctx, events.TopicJobCompleted, payload)
}

func (e *Executor) limits(task dispatch.Task, meta registry.JobMeta) (soft, hard time.Duration) {
	soft = time.Duration(task.SoftTimeLimitSeconds) * time.Second
	hard = time.Duration(task.HardTimeLimitSeconds) * time.Second
	if soft <= 0 {
		soft = meta.SoftTimeLimit
	}
	if hard <= 0 {
		hard = meta.HardTimeLimit
	}
	return soft, hard
}

type runResult struct {
	output any
	err    error
}

// execution carries one attempt's terminal facts: whether this attempt
// won the terminal transition, and the output or failure it recorded.
type execution struct {
	outcome   Outcome
	finalized bool
	output    json.RawMessage
	einfo     string
}

func (e *Executor) run(ctx context.Context, task dispatch.Task, runner registry.Runner,
	soft, hard time.Duration, logger zerolog.Logger) execution {

	runCtx, cancel := context.WithTimeout(ctx, hard)
	defer cancel()

	softExpired := make(chan struct{})
	softTimer := time.AfterFunc(soft, func() {
		logger.Warn().Dur("soft_time_limit", soft).Msg("soft time limit passed")
		close(softExpired)
	})
	defer softTimer.Stop()

	rc := &registry.RunContext{
		ResultID:    task.ResultID,
		Args:        task.Args,
		DryRun:      task.DryRun,
		SoftExpired: softExpired,
		Log:         registry.NewRunLogger(e.logs, task.ResultID, logger),
	}

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: fmt.Errorf("job body panicked: %v", r)}
			}
		}()
		output, err := runner.Run(runCtx, rc)
		done <- runResult{output: output, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			// Hard-limit cancellations usually surface as a context
			// error from the body.
			if runCtx.Err() == context.DeadlineExceeded {
				return e.failExec(ctx, task, OutcomeTimedOut, fmt.Sprintf("hard time limit of %s exceeded", hard))
			}
			return e.failExec(ctx, task, OutcomeErrored, res.err.Error())
		}
		return e.complete(ctx, task, res.output, logger)
	case <-runCtx.Done():
		// The body ignored cancellation; its goroutine is abandoned.
		logger.Error().Dur("hard_time_limit", hard).Msg("job body did not stop at the hard time limit")
		return e.failExec(ctx, task, OutcomeTimedOut, fmt.Sprintf("hard time limit of %s exceeded", hard))
	}
}

func (e *Executor) complete(ctx context.Context, task dispatch.Task, output any, logger zerolog.Logger) execution {
	var payload json.RawMessage
	if output != nil {
		b, err := json.Marshal(output)
		if err != nil {
			return e.failExec(ctx, task, OutcomeErrored, fmt.Sprintf("encode job output: %v", err))
		}
		payload = b
	}
	won, err := e.results.Complete(ctx, task.ResultID, payload)
	if err != nil {
		logger.Error().Err(err).Msg("record completion")
	}
	return execution{outcome: OutcomeCompleted, finalized: won, output: payload}
}

func (e *Executor) failExec(ctx context.Context, task dispatch.Task, o Outcome, reason string) execution {
	return execution{outcome: o, finalized: e.fail(ctx, task, reason), einfo: reason}
}

func (e *Executor) fail(ctx context.Context, task dispatch.Task, reason string) bool {
	entry := &model.JobLogEntry{JobResultID: task.ResultID, Level: model.LogError, Message: reason}
	if err := e.logs.Append(ctx, entry); err != nil {
		e.logger.Error().Err(err).Str("job_result_id", task.ResultID).Msg("append failure log entry")
	}
	won, err := e.results.Fail(ctx, task.ResultID, reason)
	if err != nil {
		e.logger.Error().Err(err).Str("job_result_id", task.ResultID).Msg("record failure")
	}
	return won
}

func (e *Executor) releaseLock(ctx context.Context, task dispatch.Task) {
	if task.LockToken == "" {
		return
	}
	if err := e.locker.Release(ctx, task.JobID, task.LockToken); err != nil {
		e.logger.Warn().Err(err).Str("job_id", task.JobID).Msg("release singleton lock")
	}
}

func outcomeStatus(o Outcome) string {
	if o == OutcomeCompleted {
		return model.StatusCompleted
	}
	return model.StatusErrored
}
