package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/jobrunner/internal/model"
)

func TestJobResultService_Create_SetsPending(t *testing.T) {
	db := &mockDB{}
	svc := NewJobResultService(db)
	ctx := context.Background()

	r := &model.JobResult{
		ID:          "res-1",
		JobID:       "export-object-list",
		RequestedBy: "alice",
		QueueName:   "default",
		Arguments:   json.RawMessage(`{}`),
	}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	require.NoError(t, svc.Create(ctx, r))
	assert.Equal(t, model.StatusPending, r.Status)
	db.AssertExpectations(t)
}

func TestJobResultService_MarkRunning_WinsOnce(t *testing.T) {
	db := &mockDB{}
	svc := NewJobResultService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()

	won, err := svc.MarkRunning(ctx, "res-1")
	require.NoError(t, err)
	assert.True(t, won)

	// a redelivered message loses the claim
	won, err = svc.MarkRunning(ctx, "res-1")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestJobResultService_Complete_AlreadyTerminal(t *testing.T) {
	db := &mockDB{}
	svc := NewJobResultService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	won, err := svc.Complete(ctx, "res-1", json.RawMessage(`{"exported":42}`))
	require.NoError(t, err)
	assert.False(t, won)
}

func TestJobResultService_Fail_Transition(t *testing.T) {
	db := &mockDB{}
	svc := NewJobResultService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	won, err := svc.Fail(ctx, "res-1", "device unreachable")
	require.NoError(t, err)
	assert.True(t, won)
}

func TestJobResultService_Fail_DBError(t *testing.T) {
	db := &mockDB{}
	svc := NewJobResultService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("connection reset"))

	_, err := svc.Fail(ctx, "res-1", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail job result")
}

func TestJobResultService_StaleRunning(t *testing.T) {
	db := &mockDB{}
	svc := NewJobResultService(db)
	ctx := context.Background()

	rows := newMockRows(func(dest ...any) error {
		*(dest[0].(*string)) = "res-dead"
		*(dest[1].(*string)) = "inventory-backup"
		*(dest[3].(*string)) = "alice"
		*(dest[6].(*string)) = model.StatusRunning
		return nil
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	stale, err := svc.StaleRunning(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "res-dead", stale[0].ID)
	assert.Equal(t, "alice", stale[0].RequestedBy)
	assert.Equal(t, model.StatusRunning, stale[0].Status)
}

func TestJobResultService_GetByID_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewJobResultService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := svc.GetByID(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}
