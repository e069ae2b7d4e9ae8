// Package errors provides error handling for remit.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Details and hints that survive wrapping
//
// On top of the re-exports it defines the settlement error taxonomy:
// validation, authorization, transient and conflict failures. Callers mark
// an error with one of the sentinels below and the retry controller
// classifies it with Classify.
//
// Usage:
//
//	// Wrap with context
//	if err := mover.Execute(ctx, transfer); err != nil {
//	    return errors.Wrapf(err, "transfer for schedule %s", id)
//	}
//
//	// Mark an error with a taxonomy sentinel, keeping its message
//	return errors.Mark(err, errors.ErrUnauthorized)
//
//	// Check errors
//	if errors.Is(err, errors.ErrSecretRequired) {
//	    // needs a PIN
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var AssertionFailedf = crdb.AssertionFailedf

// Common sentinel errors for use across remit.
// Use these with errors.Is() for type-safe error checking.
// Wrap or Mark these to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrNotActive indicates a schedule is not in the active state
	ErrNotActive = New("schedule not active")

	// ErrUnauthorized indicates wrong or unusable secret material
	ErrUnauthorized = New("unauthorized")

	// ErrSecretRequired indicates no PIN is available to rematerialize a signing key
	ErrSecretRequired = New("secret required")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a concurrent attempt already holds or advanced the schedule
	ErrConflict = New("resource conflict")
)

// Class is the settlement error taxonomy used by the retry controller.
type Class string

const (
	ClassValidation    Class = "validation"
	ClassAuthorization Class = "authorization"
	ClassTransient     Class = "transient"
	ClassConflict      Class = "conflict"
)

// Classify maps an error onto the settlement taxonomy.
// Anything not explicitly marked is treated as transient: an unknown mover
// failure is retried rather than silently dropped.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case IsAny(err, ErrNotFound, ErrInvalidRequest, ErrNotActive):
		return ClassValidation
	case IsAny(err, ErrUnauthorized, ErrSecretRequired):
		return ClassAuthorization
	case Is(err, ErrConflict):
		return ClassConflict
	default:
		return ClassTransient
	}
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}
