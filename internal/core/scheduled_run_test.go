package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/jobrunner/internal/model"
)

func enabledJob() *model.JobDefinition {
	return &model.JobDefinition{ID: "export-object-list", Name: "Export object list", Enabled: true}
}

// ---------- ValidateSchedule ----------

func TestValidateSchedule_DisabledJob(t *testing.T) {
	job := enabledJob()
	job.Enabled = false
	err := ValidateSchedule(job, &model.ScheduledRun{Interval: model.IntervalImmediate})
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "disabled")
}

func TestValidateSchedule_UnknownInterval(t *testing.T) {
	err := ValidateSchedule(enabledJob(), &model.ScheduledRun{Interval: "fortnightly"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown schedule interval")
}

func TestValidateSchedule_SensitiveVariablesImmediateOnly(t *testing.T) {
	job := enabledJob()
	job.HasSensitiveVariables = true

	err := ValidateSchedule(job, &model.ScheduledRun{Interval: model.IntervalImmediate})
	assert.NoError(t, err)

	start := time.Now().Add(time.Hour)
	err = ValidateSchedule(job, &model.ScheduledRun{Interval: model.IntervalDaily, StartTime: &start})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sensitive variables")
}

func TestValidateSchedule_CustomRequiresCrontab(t *testing.T) {
	err := ValidateSchedule(enabledJob(), &model.ScheduledRun{Interval: model.IntervalCustom})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a crontab")

	err = ValidateSchedule(enabledJob(), &model.ScheduledRun{
		Interval: model.IntervalCustom,
		Crontab:  "not a crontab",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid crontab")

	err = ValidateSchedule(enabledJob(), &model.ScheduledRun{
		Interval: model.IntervalCustom,
		Crontab:  "0 2 * * *",
	})
	assert.NoError(t, err)
}

func TestValidateSchedule_CrontabOnlyWithCustom(t *testing.T) {
	start := time.Now().Add(time.Hour)
	err := ValidateSchedule(enabledJob(), &model.ScheduledRun{
		Interval:  model.IntervalDaily,
		StartTime: &start,
		Crontab:   "0 2 * * *",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only valid with interval")
}

func TestValidateSchedule_RecurringRequiresStartTime(t *testing.T) {
	for _, interval := range []string{model.IntervalFuture, model.IntervalHourly, model.IntervalDaily, model.IntervalWeekly} {
		err := ValidateSchedule(enabledJob(), &model.ScheduledRun{Interval: interval})
		require.Error(t, err, interval)
		assert.Contains(t, err.Error(), "requires a start time")
	}
}

func TestValidateSchedule_UnknownTimeZone(t *testing.T) {
	start := time.Now().Add(time.Hour)
	err := ValidateSchedule(enabledJob(), &model.ScheduledRun{
		Interval:  model.IntervalDaily,
		StartTime: &start,
		TimeZone:  "Mars/Olympus_Mons",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown time zone")
}

// ---------- Create ----------

func TestScheduledRunService_Create_NoApproval(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledRunService(db)
	ctx := context.Background()

	run := &model.ScheduledRun{
		ID:          "run-1",
		JobID:       "export-object-list",
		RequestedBy: "alice",
		Interval:    model.IntervalImmediate,
	}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil).Once()

	err := svc.Create(ctx, run, enabledJob(), nil)
	require.NoError(t, err)
	db.AssertExpectations(t)
	db.AssertNumberOfCalls(t, "Exec", 1)
}

func TestScheduledRunService_Create_WithApprovalStages(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledRunService(db)
	ctx := context.Background()

	job := enabledJob()
	job.ApprovalRequired = true
	run := &model.ScheduledRun{
		ID:          "run-1",
		JobID:       job.ID,
		RequestedBy: "alice",
		Interval:    model.IntervalImmediate,
	}

	// run insert + workflow insert + two stage inserts
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil).Times(4)

	err := svc.Create(ctx, run, job, []string{"network-operations", "security"})
	require.NoError(t, err)
	assert.True(t, run.ApprovalRequired)
	assert.Equal(t, model.ApprovalPending, run.ApprovalState)
	db.AssertExpectations(t)
}

func TestScheduledRunService_Create_ApprovalWithoutGroups(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledRunService(db)

	job := enabledJob()
	job.ApprovalRequired = true
	run := &model.ScheduledRun{ID: "run-1", JobID: job.ID, Interval: model.IntervalImmediate}

	err := svc.Create(context.Background(), run, job, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no approver groups")
	db.AssertNotCalled(t, "Exec")
}

func TestScheduledRunService_Create_InsertError(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledRunService(db)
	ctx := context.Background()

	run := &model.ScheduledRun{ID: "run-1", JobID: "export-object-list", Interval: model.IntervalImmediate}
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("connection reset"))

	err := svc.Create(ctx, run, enabledJob(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert scheduled run")
}

// ---------- MarkFired ----------

func TestScheduledRunService_MarkFired_Won(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledRunService(db)
	ctx := context.Background()

	occurredAt := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	fired, err := svc.MarkFired(ctx, "run-1", occurredAt)
	require.NoError(t, err)
	assert.True(t, fired)
	db.AssertExpectations(t)
}

func TestScheduledRunService_MarkFired_AlreadyFired(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledRunService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	fired, err := svc.MarkFired(ctx, "run-1", time.Now())
	require.NoError(t, err)
	assert.False(t, fired)
}

// ---------- ListEligible ----------

func TestScheduledRunService_ListEligible_Empty(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledRunService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil)

	runs, err := svc.ListEligible(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// ---------- SetEnabled / Delete ----------

func TestScheduledRunService_SetEnabled_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledRunService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := svc.SetEnabled(ctx, "missing", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScheduledRunService_Delete_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewScheduledRunService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, svc.Delete(ctx, "run-1"))
	db.AssertExpectations(t)
}
