package registry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/jobrunner/internal/model"
)

// JobMeta is the metadata a job body declares about itself. The registry
// copies it into the job_definitions table; only execution metadata
// follows the code on refresh, display fields and the enabled flag are
// DB state.
type JobMeta struct {
	ID                    string
	Name                  string
	Description           string
	Vars                  []VarSpec
	ApproverGroups        []string
	IsSingleton           bool
	HasSensitiveVariables bool
	ApprovalRequired      bool
	DryRunDefault         bool
	SoftTimeLimit         time.Duration
	HardTimeLimit         time.Duration
}

// Runner is the single entry point a job body exposes. Job business logic
// is opaque to the core: it receives validated typed arguments and a run
// context, and returns an output payload or an error.
type Runner interface {
	Meta() JobMeta
	Run(ctx context.Context, rc *RunContext) (any, error)
}

// RunContext carries everything a job body may use during execution.
// SoftExpired is closed when the soft time limit passes; cooperative jobs
// watch it and wind down. The hard limit is enforced by cancelling ctx.
type RunContext struct {
	ResultID    string
	Args        map[string]any
	DryRun      bool
	SoftExpired <-chan struct{}
	Log         *RunLogger
}

// LogSink persists one job log entry. *core.JobLogService satisfies it.
type LogSink interface {
	Append(ctx context.Context, e *model.JobLogEntry) error
}

// RunLogger writes append-only structured log lines for a running task,
// mirrored to the process logger. Persistence failures are logged and
// swallowed: a broken log sink must not fail the job.
type RunLogger struct {
	sink     LogSink
	resultID string
	logger   zerolog.Logger
}

func NewRunLogger(sink LogSink, resultID string, logger zerolog.Logger) *RunLogger {
	return &RunLogger{
		sink:     sink,
		resultID: resultID,
		logger:   logger.With().Str("job_result_id", resultID).Logger(),
	}
}

func (l *RunLogger) Debug(ctx context.Context, msg string)   { l.write(ctx, model.LogDebug, msg, nil, nil) }
func (l *RunLogger) Info(ctx context.Context, msg string)    { l.write(ctx, model.LogInfo, msg, nil, nil) }
func (l *RunLogger) Success(ctx context.Context, msg string) { l.write(ctx, model.LogSuccess, msg, nil, nil) }
func (l *RunLogger) Warning(ctx context.Context, msg string) { l.write(ctx, model.LogWarning, msg, nil, nil) }
func (l *RunLogger) Error(ctx context.Context, msg string)   { l.write(ctx, model.LogError, msg, nil, nil) }

// Object logs a line tied to a specific inventory object.
func (l *RunLogger) Object(ctx context.Context, level, msg, objectType, objectID string) {
	l.write(ctx, level, msg, &objectType, &objectID)
}

func (l *RunLogger) write(ctx context.Context, level, msg string, objectType, objectID *string) {
	l.logger.WithLevel(zerologLevel(level)).Str("job_log_level", level).Msg(msg)

	entry := &model.JobLogEntry{
		JobResultID: l.resultID,
		Level:       level,
		Message:     msg,
		ObjectType:  objectType,
		ObjectID:    objectID,
	}
	if err := l.sink.Append(ctx, entry); err != nil {
		l.logger.Error().Err(err).Msg("persist job log entry")
	}
}

func zerologLevel(level string) zerolog.Level {
	switch level {
	case model.LogDebug:
		return zerolog.DebugLevel
	case model.LogWarning:
		return zerolog.WarnLevel
	case model.LogError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
