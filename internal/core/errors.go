package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors shared across the job pipeline. Handlers map these to
// HTTP statuses; none of them are retried by the core.
var (
	// ErrNotFound wraps lookups that matched no row.
	ErrNotFound = errors.New("not found")

	// ErrSingletonConflict is returned when a dispatch would violate the
	// at-most-one-concurrent-execution contract. The caller must retry
	// later; conflicting dispatches are never queued.
	ErrSingletonConflict = errors.New("job is already running")

	// ErrApprovalDenied marks a workflow that was denied at some stage.
	// Denial is terminal and not retryable.
	ErrApprovalDenied = errors.New("approval workflow denied")

	// ErrConfirmRequired is returned when approving a run whose start
	// time has already passed without the explicit confirm flag.
	ErrConfirmRequired = errors.New("scheduled start time has passed, explicit confirmation required")
)

// ValidationError reports a request that fails a precondition check:
// disabled job, bad schedule spec, ineligible queue, malformed variables.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PermissionError reports a run or approval attempted without the
// matching grant.
type PermissionError struct {
	Msg string
}

func (e *PermissionError) Error() string { return e.Msg }

// Permissionf builds a PermissionError from a format string.
func Permissionf(format string, args ...any) *PermissionError {
	return &PermissionError{Msg: fmt.Sprintf(format, args...)}
}

// BackendError wraps a failure to reach or drive an execution backend
// (broker unreachable, orchestration API failure).
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// notFound converts pgx.ErrNoRows into a wrapped ErrNotFound that names
// the record, and passes other errors through with context.
func notFound(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// uniqueViolation reports whether err is a Postgres unique constraint
// violation.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
