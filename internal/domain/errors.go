package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when data is not in the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrInvalidID is returned when an ID is malformed or empty.
	ErrInvalidID = errors.New("invalid ID")

	// ErrUnknownKind is returned for a task kind outside the closed set.
	ErrUnknownKind = errors.New("unknown task kind")

	// ErrUnknownTier is returned for a retrieval tier the service does not offer.
	ErrUnknownTier = errors.New("unknown retrieval tier")
)
