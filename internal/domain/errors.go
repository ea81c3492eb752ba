package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is the root of every input validation failure. It is never retried.
	ErrValidation = errors.New("validation failed")

	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotActive is returned when a terminal transition targets a job that is not active.
	ErrJobNotActive = errors.New("job is not active")

	// ErrJobNotCancellable is returned when cancelling a job that already started.
	ErrJobNotCancellable = errors.New("job cannot be cancelled once started")

	// ErrQueueUnavailable is returned when the job store cannot be reached.
	ErrQueueUnavailable = errors.New("job queue is currently unavailable")

	// ErrNoWrapper is returned when no wrapper is registered for a language.
	ErrNoWrapper = errors.New("no wrapper registered")

	// ErrRegistrySealed is returned when registering after startup.
	ErrRegistrySealed = errors.New("wrapper registry is sealed")
)

// ValidationError describes invalid caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// UnsupportedLanguageError is returned when no sandbox profile exists for a language.
type UnsupportedLanguageError struct {
	Language  string
	Supported []string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("unsupported language %q (supported: %s)", e.Language, strings.Join(e.Supported, ", "))
}

func (e *UnsupportedLanguageError) Unwrap() error { return ErrValidation }
