package core

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/jobrunner/internal/model"
)

func jobDefinitionRowScan(id, name string, enabled bool) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = name
		*(dest[2].(*string)) = ""
		*(dest[3].(*bool)) = true // installed
		*(dest[4].(*bool)) = enabled
		*(dest[5].(*bool)) = false
		*(dest[6].(*bool)) = false
		*(dest[7].(*bool)) = false
		*(dest[8].(*bool)) = false
		*(dest[9].(*int)) = 0
		*(dest[10].(*int)) = 0
		// dest[11] default_queue_id stays nil
		*(dest[12].(*time.Time)) = time.Now()
		*(dest[13].(*time.Time)) = time.Now()
		return nil
	}
}

func TestJobDefinitionService_GetByID_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewJobDefinitionService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: jobDefinitionRowScan("ping-sweep", "Ping sweep", true)})

	j, err := svc.GetByID(ctx, "ping-sweep")
	require.NoError(t, err)
	assert.Equal(t, "ping-sweep", j.ID)
	assert.True(t, j.Enabled)
}

func TestJobDefinitionService_GetByID_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewJobDefinitionService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})

	_, err := svc.GetByID(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobDefinitionService_List_Pagination(t *testing.T) {
	db := &mockDB{}
	svc := NewJobDefinitionService(db)
	ctx := context.Background()

	// limit+1 rows signals another page
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(
			jobDefinitionRowScan("a", "A", true),
			jobDefinitionRowScan("b", "B", true),
			jobDefinitionRowScan("c", "C", true),
		), nil)

	defs, hasMore, err := svc.List(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, defs, 2)
	assert.True(t, hasMore)
}

func TestJobDefinitionService_Sync_Upsert(t *testing.T) {
	db := &mockDB{}
	svc := NewJobDefinitionService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.Sync(ctx, &model.JobDefinition{
		ID:                   "inventory-backup",
		Name:                 "Inventory backup",
		IsSingleton:          true,
		SoftTimeLimitSeconds: 300,
		HardTimeLimitSeconds: 600,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestJobDefinitionService_SetEnabled_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewJobDefinitionService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := svc.SetEnabled(ctx, "missing", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}
