package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	// Entity-specific variants below wrap it.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., a task with an id that is already queued).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransactionFailed is returned when a transaction could not be
	// started or committed.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrBusy is returned when the database stayed locked by another
	// process after all retries were spent.
	ErrBusy = errors.New("database busy")

	// Entity-specific "not found" errors

	// ErrTaskNotFound indicates that no queued task has the requested id.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrArchiveNotFound indicates that the inventory has no such archive.
	ErrArchiveNotFound = fmt.Errorf("%w: archive", ErrNotFound)

	// ErrVaultNotFound indicates that no inventory was loaded for the vault.
	ErrVaultNotFound = fmt.Errorf("%w: vault", ErrNotFound)

	// Entity-specific "duplicate" errors

	// ErrTaskExists indicates that a task with the same id is already queued.
	ErrTaskExists = fmt.Errorf("%w: task", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
// All entity-specific not found errors wrap ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
// All entity-specific duplicate errors wrap ErrDuplicate.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
