package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict is returned when a mutation targets an entity whose state no longer allows it,
	// e.g. linking a checkout to a payment that is already completed or failed.
	ErrConflict    = errors.New("conflicting state")
	ErrRateLimited = errors.New("rate limited")

	// Storage errors. ErrOperationFailed is transient: callers may retry.
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Provider errors
	ErrGatewayFailed = errors.New("payment gateway request failed")
)

// IsTransient reports whether err should be surfaced as retryable to the caller.
func IsTransient(err error) bool {
	return errors.Is(err, ErrOperationFailed) ||
		errors.Is(err, ErrReadDatabaseRow) ||
		errors.Is(err, ErrInvalidExecContext)
}
