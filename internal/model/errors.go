package model

import "errors"

// Domain errors are pure: no infrastructure dependency. Callers classify
// with errors.Is; the HTTP layer maps them to status codes.

var (
	// Validation failures, returned to the caller and never retried by the core.
	ErrInsufficientStock     = errors.New("insufficient stock for movement")
	ErrInsufficientAvailable = errors.New("insufficient available stock for reservation")
	ErrUnknownVariant        = errors.New("no inventory entry for product/variant")
	ErrInvalidQuantity       = errors.New("quantity must be a positive amount")

	// Reservation lifecycle errors.
	ErrReservationNotFound = errors.New("reservation not found")
	ErrAlreadyResolved     = errors.New("reservation already resolved")

	// Concurrency errors, retryable by the caller.
	ErrLockTimeout     = errors.New("could not acquire inventory lock, try again")
	ErrSummaryConflict = errors.New("summary version conflict")

	// ErrInvariantViolation means an internal consistency check failed.
	// It aborts the operation without partial writes and is never corrected
	// silently.
	ErrInvariantViolation = errors.New("inventory invariant violation")
)
