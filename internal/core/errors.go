package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the four failure classes the domain distinguishes.
// Typed errors below report errors.Is against these.
var (
	ErrValidation    = errors.New("validation failed")
	ErrConfiguration = errors.New("configuration error")
	ErrTransientIO   = errors.New("transient i/o failure")
	ErrNotFound      = errors.New("not found")

	// ErrNotPermitted is returned when the authorization layer rejects an
	// import target for the calling user.
	ErrNotPermitted = errors.New("import target not permitted")
)

// ValidationError reports bad input that only affects the current item
// (a single import row, a single filter value).
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ConfigurationError is raised at setup/load time and blocks the whole
// operation (priority collisions, unknown target schemas).
type ConfigurationError struct {
	Component string
	Message   string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %s: %v", e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
}

// Is implements errors.Is support.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Unwrap implements errors.Unwrap.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(component, message string) *ConfigurationError {
	return &ConfigurationError{Component: component, Message: message}
}

// TransientIOError wraps a store failure that is expected to clear on its
// own (connection loss, lock contention, serialization failure).
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

// Is implements errors.Is support.
func (e *TransientIOError) Is(target error) bool {
	return target == ErrTransientIO
}

// Unwrap implements errors.Unwrap.
func (e *TransientIOError) Unwrap() error {
	return e.Err
}

// NewTransientIOError wraps err as retryable.
func NewTransientIOError(op string, err error) *TransientIOError {
	return &TransientIOError{Op: op, Err: err}
}

// NotFoundError represents a missing config row, record, table or import job.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Is implements errors.Is support.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsTransient reports whether err is worth retrying at the batch level.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientIO)
}
