package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/platform/glacier"
	"github.com/phrazzld/coldstore/internal/store"
	"github.com/phrazzld/coldstore/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, glacier.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrUnknownKind),
		errors.Is(err, domain.ErrUnknownTier),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// The runner is shutting down or the database is locked by another process
	case errors.Is(err, task.ErrQueueClosed),
		errors.Is(err, task.ErrIntakeClosed),
		errors.Is(err, store.ErrBusy):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrArchiveNotFound):
		return "Archive not found"
	case errors.Is(err, store.ErrVaultNotFound), errors.Is(err, glacier.ErrNotFound):
		return "Vault not found"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"

	case errors.Is(err, store.ErrTaskExists):
		return "Task already exists"
	case errors.Is(err, store.ErrDuplicate):
		return "Entity already exists"

	case errors.Is(err, domain.ErrUnknownKind):
		return "Unknown task kind"
	case errors.Is(err, domain.ErrUnknownTier):
		return "Unknown retrieval tier"
	case errors.Is(err, domain.ErrInvalidFormat):
		return "Invalid payload format"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid task data"

	case errors.Is(err, task.ErrQueueClosed),
		errors.Is(err, task.ErrIntakeClosed):
		return "Task runner is not accepting tasks"
	case errors.Is(err, store.ErrBusy):
		return "Database is busy, try again"

	default:
		return "An unexpected error occurred"
	}
}
