// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrAlreadyClaimed   = errors.New("already claimed")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrNoResourcesFound = errors.New("no resources found")
	ErrInternal         = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "id", "clusterCriteria")
	Resource string // Resource kind involved (e.g., "job", "cluster", "command")
	Op       string // Operation that failed (e.g., "store.claimJob")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// AlreadyExists creates an id-collision error for a resource.
func AlreadyExists(resource, id string) error {
	return &Error{
		Sentinel: ErrAlreadyExists,
		Message:  fmt.Sprintf("%s with id %s already exists", resource, id),
		Resource: resource,
	}
}

// AlreadyClaimed creates an error for a job that has already been claimed.
func AlreadyClaimed(id string) error {
	return &Error{
		Sentinel: ErrAlreadyClaimed,
		Message:  fmt.Sprintf("job %s is already claimed", id),
		Resource: "job",
	}
}

// InvalidStatus creates an error for an illegal or racing status transition.
func InvalidStatus(message string) error {
	return &Error{
		Sentinel: ErrInvalidStatus,
		Message:  message,
		Resource: "job",
	}
}

// NoResourcesFound creates an error for criteria no registered resource satisfies.
// The resource names the kind that could not be matched (cluster or command) and the
// message carries the criteria, in priority order, so callers can diagnose.
func NoResourcesFound(resource, message string) error {
	return &Error{
		Sentinel: ErrNoResourcesFound,
		Message:  message,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
