package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState indicates a transition that is not valid from the current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrConfiguration indicates that no provider/model could be resolved.
	ErrConfiguration = errors.New("configuration error")

	// ErrStageExecution indicates that a stage call failed, timed out or returned invalid output.
	ErrStageExecution = errors.New("stage execution failed")

	// ErrDedupConflict indicates that a scraped candidate is already stored.
	ErrDedupConflict = errors.New("duplicate candidate")

	// ErrLeaseConflict indicates that another worker holds the lease for an entity.
	ErrLeaseConflict = errors.New("lease held by another worker")

	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrQualityShortfall marks a quality gate that exhausted its retries.
	ErrQualityShortfall = errors.New("quality below target")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError provides details about a duplicate entity.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// InvalidStateError is returned when an operation is invoked from a status
// that does not allow it. No side effects have been applied.
type InvalidStateError struct {
	Entity    string
	ID        string
	Operation string
	Status    string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %q", e.Operation, e.Entity, e.ID, e.Status)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// ConfigurationError is a fatal, non-retryable provider resolution failure.
type ConfigurationError struct {
	Stage  Stage
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error for stage %s: %s", e.Stage, e.Reason)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// StageFailureKind classifies a StageExecutionError.
type StageFailureKind string

const (
	StageFailureProvider      StageFailureKind = "provider_error"
	StageFailureTimeout       StageFailureKind = "timeout"
	StageFailureInvalidOutput StageFailureKind = "invalid_output"
)

// StageExecutionError wraps a failed stage call. It is recorded in the
// article's error log and is retryable through RetryStage.
type StageExecutionError struct {
	Stage    Stage
	Provider string
	Model    string
	Kind     StageFailureKind
	Err      error
}

// Error implements the error interface.
func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed (%s via %s/%s): %v", e.Stage, e.Kind, e.Provider, e.Model, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *StageExecutionError) Unwrap() []error {
	return []error{ErrStageExecution, e.Err}
}

// QualityShortfallWarning describes a quality gate that exhausted its retries.
// It is recorded on the article rather than returned to callers.
type QualityShortfallWarning struct {
	Dimension GateDimension
	Score     float64
	Target    float64
	Attempts  int
}

// Error implements the error interface.
func (e *QualityShortfallWarning) Error() string {
	return fmt.Sprintf("%s score %.1f missed target %.1f after %d rewrite cycles", e.Dimension, e.Score, e.Target, e.Attempts)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *QualityShortfallWarning) Unwrap() error {
	return ErrQualityShortfall
}

// DedupConflict reports a scraped candidate that is already stored.
type DedupConflict struct {
	URL   string
	Title string
}

// Error implements the error interface.
func (e *DedupConflict) Error() string {
	return fmt.Sprintf("duplicate candidate %q (%s)", e.Title, e.URL)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *DedupConflict) Unwrap() error {
	return ErrDedupConflict
}

// LeaseConflictError reports that another worker currently holds a lease.
type LeaseConflictError struct {
	Key string
}

// Error implements the error interface.
func (e *LeaseConflictError) Error() string {
	return fmt.Sprintf("lease conflict: %s", e.Key)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *LeaseConflictError) Unwrap() error {
	return ErrLeaseConflict
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{Entity: entity, ID: id}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewInvalidStateError creates a new InvalidStateError.
func NewInvalidStateError(entity, id, operation, status string) *InvalidStateError {
	return &InvalidStateError{Entity: entity, ID: id, Operation: operation, Status: status}
}
