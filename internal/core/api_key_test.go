package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ---------- Create ----------

func TestAPIKeyCreate(t *testing.T) {
	db := new(mockDB)
	svc := NewAPIKeyService(db)

	var storedHash string
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		storedHash = args.Get(2).([]any)[3].(string)
	}).Return(&mockRow{
		scanFunc: func(dest ...any) error {
			*(dest[0].(*time.Time)) = time.Now()
			return nil
		},
	}).Once()

	key, raw, err := svc.Create(context.Background(), "ci", "edvin", []string{"netops"})

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "jrn_"))
	assert.Equal(t, raw[:12], key.KeyPrefix)
	assert.Equal(t, "edvin", key.UserName)
	assert.Equal(t, []string{"netops"}, key.Groups)

	// The stored value is the sha256 of the raw key, never the key itself.
	hash := sha256.Sum256([]byte(raw))
	assert.Equal(t, hex.EncodeToString(hash[:]), storedHash)
	db.AssertExpectations(t)
}

func TestAPIKeyCreate_NilGroups(t *testing.T) {
	db := new(mockDB)
	svc := NewAPIKeyService(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{
		scanFunc: func(dest ...any) error {
			*(dest[0].(*time.Time)) = time.Now()
			return nil
		},
	}).Once()

	key, _, err := svc.Create(context.Background(), "ci", "edvin", nil)

	require.NoError(t, err)
	assert.NotNil(t, key.Groups)
	assert.Empty(t, key.Groups)
}

// ---------- Revoke ----------

func TestAPIKeyRevoke(t *testing.T) {
	db := new(mockDB)
	svc := NewAPIKeyService(db)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()

	err := svc.Revoke(context.Background(), "key-1")

	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAPIKeyRevoke_AlreadyRevoked(t *testing.T) {
	db := new(mockDB)
	svc := NewAPIKeyService(db)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()

	err := svc.Revoke(context.Background(), "key-1")

	assert.ErrorIs(t, err, ErrNotFound)
}

// ---------- List ----------

func TestAPIKeyList(t *testing.T) {
	db := new(mockDB)
	svc := NewAPIKeyService(db)

	rows := newMockRows(func(dest ...any) error {
		*(dest[0].(*string)) = "key-1"
		*(dest[1].(*string)) = "ci"
		*(dest[2].(*string)) = "edvin"
		*(dest[3].(*string)) = "jrn_0123abcd"
		*(dest[4].(*[]string)) = []string{"netops"}
		*(dest[5].(*time.Time)) = time.Now()
		return nil
	})
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil).Once()

	keys, err := svc.List(context.Background())

	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "jrn_0123abcd", keys[0].KeyPrefix)
}

func TestAPIKeyList_QueryError(t *testing.T) {
	db := new(mockDB)
	svc := NewAPIKeyService(db)

	db.On("Query", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused")).Once()

	_, err := svc.List(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list api keys")
}
