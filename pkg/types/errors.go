package types

import "errors"

// Domain errors shared by all components
var (
	// ErrValidation is wrapped by every synchronous input rejection
	ErrValidation = errors.New("validation failed")

	ErrEmptyID            = errors.New("record id cannot be empty")
	ErrEmptyText          = errors.New("text cannot be empty")
	ErrUnknownField       = errors.New("unknown field name")
	ErrInvalidSearchLevel = errors.New("search level must be 1, 2 or 3")

	// ErrStoreBusy marks a transient contention failure that may be retried
	ErrStoreBusy = errors.New("store busy")

	// ErrProviderUnavailable marks an embedding failure or timeout
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
)

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Search result errors
var (
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between -1 and 1")
)
