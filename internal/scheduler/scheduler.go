package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/dispatch"
	"github.com/edvin/jobrunner/internal/events"
	"github.com/edvin/jobrunner/internal/metrics"
	"github.com/edvin/jobrunner/internal/model"
)

// staleRunningAfter is how long a result may sit in running before the
// sweep declares its worker dead. Well past any sane hard time limit.
const staleRunningAfter = 4 * time.Hour

// reapInterval spaces the stale sweeps; the tick itself runs much
// faster.
const reapInterval = time.Minute

// RunSource is the scheduled-run surface the loop needs.
type RunSource interface {
	ListEligible(ctx context.Context) ([]model.ScheduledRun, error)
	MarkFired(ctx context.Context, id string, occurredAt time.Time) (bool, error)
}

// Dispatcher submits one due run for execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*model.JobResult, error)
}

// QueueNamer resolves a stored queue id to its record.
type QueueNamer interface {
	GetByID(ctx context.Context, id string) (*model.Queue, error)
}

// Heartbeater records that the loop is alive, surfaced by readiness
// probes.
type Heartbeater interface {
	Beat(ctx context.Context, at time.Time) error
}

// ResultReaper is the slice of the result store the stale sweep uses to
// fail over results orphaned by a dead worker.
type ResultReaper interface {
	StaleRunning(ctx context.Context, cutoff time.Time) ([]model.JobResult, error)
	Fail(ctx context.Context, id, failure string) (bool, error)
}

// EventPublisher mirrors events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload map[string]any)
}

// Scheduler is the single poll loop that turns due ScheduledRuns into
// dispatches. Exactly one instance should run; the guarded MarkFired
// update makes an accidental second instance harmless.
type Scheduler struct {
	runs       RunSource
	dispatcher Dispatcher
	queues     QueueNamer
	heartbeat  Heartbeater
	results    ResultReaper
	events     EventPublisher
	tick       time.Duration
	lastReap   time.Time
	now        func() time.Time
	logger     zerolog.Logger
}

func New(runs RunSource, dispatcher Dispatcher, queues QueueNamer, heartbeat Heartbeater,
	results ResultReaper, ev EventPublisher, tick time.Duration, logger zerolog.Logger) *Scheduler {
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Scheduler{
		runs:       runs,
		dispatcher: dispatcher,
		queues:     queues,
		heartbeat:  heartbeat,
		results:    results,
		events:     ev,
		tick:       tick,
		now:        time.Now,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run ticks until ctx is cancelled. Errors inside a tick are logged and
// never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Tick(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick evaluates every eligible run once against now. A run that missed
// several occurrences catches up one firing per tick; last_run_at walks
// the occurrence series, not the wall clock.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if err := s.heartbeat.Beat(ctx, now); err != nil {
		s.logger.Warn().Err(err).Msg("record heartbeat")
	}

	runs, err := s.runs.ListEligible(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list eligible runs")
		return
	}

	for i := range runs {
		run := &runs[i]
		occ, ok := NextOccurrence(run, now)
		if !ok || occ.After(now) {
			continue
		}
		s.fire(ctx, run, occ)
	}

	if now.Sub(s.lastReap) >= reapInterval {
		s.lastReap = now
		s.reapStale(ctx, now)
	}
	metrics.SchedulerTicks.Inc()
}

// reapStale fails over results stuck in running long past any hard time
// limit, i.e. their worker died holding the late-ack delivery. The
// terminal transition is guarded, so a still-live worker that finishes
// first wins and the sweep is a no-op.
func (s *Scheduler) reapStale(ctx context.Context, now time.Time) {
	stale, err := s.results.StaleRunning(ctx, now.Add(-staleRunningAfter))
	if err != nil {
		s.logger.Error().Err(err).Msg("list stale running results")
		return
	}

	const reason = "worker lost while the task was running"
	for i := range stale {
		r := &stale[i]
		won, err := s.results.Fail(ctx, r.ID, reason)
		if err != nil {
			s.logger.Error().Err(err).Str("job_result_id", r.ID).Msg("fail stale result")
			continue
		}
		if !won {
			continue
		}
		s.logger.Warn().
			Str("job_result_id", r.ID).
			Str("job_id", r.JobID).
			Msg("stale running result failed over")
		s.events.Publish(ctx, events.TopicJobCompleted, map[string]any{
			"job_id":        r.JobID,
			"job_result_id": r.ID,
			"status":        model.StatusErrored,
			"user":          r.RequestedBy,
			"einfo":         reason,
		})
	}
}

func (s *Scheduler) fire(ctx context.Context, run *model.ScheduledRun, occ time.Time) {
	logger := s.logger.With().
		Str("scheduled_run_id", run.ID).
		Str("job_id", run.JobID).
		Time("occurrence", occ).
		Logger()

	won, err := s.runs.MarkFired(ctx, run.ID, occ)
	if err != nil {
		logger.Error().Err(err).Msg("mark run fired")
		return
	}
	if !won {
		// Another instance (or a previous tick) consumed this
		// occurrence.
		return
	}

	req, err := s.buildRequest(ctx, run)
	if err != nil {
		logger.Error().Err(err).Msg("build dispatch request")
		return
	}

	metrics.SchedulerFirings.Inc()
	if _, err := s.dispatcher.Dispatch(ctx, *req); err != nil {
		switch {
		case errors.Is(err, core.ErrSingletonConflict):
			// The previous instance is still running; this occurrence
			// is skipped, not queued.
			logger.Info().Msg("occurrence skipped, singleton still running")
		default:
			logger.Error().Err(err).Msg("dispatch scheduled run")
		}
		return
	}
	logger.Info().Msg("scheduled run fired")
}

func (s *Scheduler) buildRequest(ctx context.Context, run *model.ScheduledRun) (*dispatch.Request, error) {
	var args map[string]any
	if len(run.Arguments) > 0 {
		if err := json.Unmarshal(run.Arguments, &args); err != nil {
			return nil, err
		}
	}

	queueName := ""
	if run.QueueID != nil {
		q, err := s.queues.GetByID(ctx, *run.QueueID)
		if err != nil {
			return nil, err
		}
		queueName = q.Name
	}

	return &dispatch.Request{
		JobID:          run.JobID,
		Queue:          queueName,
		Args:           args,
		RequestedBy:    run.RequestedBy,
		ScheduledRunID: &run.ID,
		DryRun:         run.DryRun,
	}, nil
}
