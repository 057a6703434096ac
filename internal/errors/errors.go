// Package errors defines the error taxonomy used across vmkeep. Every error
// that crosses a job boundary is classified into one of four types, and the
// type alone decides whether the run, the job, or only one target fails.
package errors

import (
	"errors"
	"fmt"
)

// Base error types
var (
	ErrConfiguration = errors.New("configuration error")
	ErrEnvironment   = errors.New("environment error")
	ErrTargetSkipped = errors.New("target skipped")
	ErrRotation      = errors.New("rotation failed")
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeConfiguration covers invalid settings and unknown VM names.
	// It is fatal and aborts the run before any side effect.
	ErrorTypeConfiguration ErrorType = "configuration"

	// ErrorTypeEnvironment covers missing mounts, unsupported filesystems,
	// missing tools, and exceeded usage ceilings. It is fatal for the job
	// that hit it.
	ErrorTypeEnvironment ErrorType = "environment"

	// ErrorTypeTarget covers a single VM or disk that could not be
	// processed. It is a warning; the batch continues.
	ErrorTypeTarget ErrorType = "target"

	// ErrorTypeRotation covers a retention deletion that failed. It is a
	// warning.
	ErrorTypeRotation ErrorType = "rotation"
)

// Error is a classified vmkeep error.
type Error struct {
	Type     ErrorType
	Op       string // Operation that failed (e.g., "clone", "check_mount")
	Resource string // VM name, disk path, or mount point if applicable
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrConfiguration:
		return e.Type == ErrorTypeConfiguration
	case ErrEnvironment:
		return e.Type == ErrorTypeEnvironment
	case ErrTargetSkipped:
		return e.Type == ErrorTypeTarget
	case ErrRotation:
		return e.Type == ErrorTypeRotation
	}

	return errors.Is(e.Err, target)
}

// New creates a new classified error
func New(errorType ErrorType, op, resource string, err error) *Error {
	return &Error{
		Type:     errorType,
		Op:       op,
		Resource: resource,
		Err:      err,
	}
}

// Helper functions

// Configuration wraps err as a configuration error.
func Configuration(op, resource string, err error) error {
	return New(ErrorTypeConfiguration, op, resource, err)
}

// Environment wraps err as an environment error.
func Environment(op, resource string, err error) error {
	return New(ErrorTypeEnvironment, op, resource, err)
}

// Target wraps err as a per-target warning.
func Target(op, resource string, err error) error {
	return New(ErrorTypeTarget, op, resource, err)
}

// Rotation wraps err as a rotation warning.
func Rotation(op, resource string, err error) error {
	return New(ErrorTypeRotation, op, resource, err)
}

// TypeOf returns the classification of err. Unclassified errors are
// reported as environment errors so they are never silently downgraded to
// warnings.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeEnvironment
}

// IsFatal reports whether err must stop the job (or the run) that produced it.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch TypeOf(err) {
	case ErrorTypeTarget, ErrorTypeRotation:
		return false
	default:
		return true
	}
}

// IsWarning reports whether err is recorded without failing the job.
func IsWarning(err error) bool {
	return err != nil && !IsFatal(err)
}
