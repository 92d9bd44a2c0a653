package response

import (
	"errors"
	"net/http"

	"github.com/edvin/jobrunner/internal/core"
)

// WriteDomainError maps the core error taxonomy to HTTP statuses.
func WriteDomainError(w http.ResponseWriter, err error) {
	var be *core.BackendError
	switch {
	case core.IsValidation(err):
		WriteError(w, http.StatusBadRequest, err.Error())
	case isPermission(err):
		WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrSingletonConflict),
		errors.Is(err, core.ErrApprovalDenied),
		errors.Is(err, core.ErrConfirmRequired):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.As(err, &be):
		WriteError(w, http.StatusBadGateway, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

func isPermission(err error) bool {
	var pe *core.PermissionError
	return errors.As(err, &pe)
}
