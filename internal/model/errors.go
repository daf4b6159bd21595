package model

import "fmt"

// ValidationError reports bad input to job or record creation. It is
// surfaced to the caller and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Message)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InvalidStateError reports an operation attempted against an entity whose
// current lifecycle state does not permit it.
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s in state %q", e.Entity, e.ID, e.Op, e.State)
}

// ConflictError reports an attempt to redo a one-time action, such as
// converting an already-converted or duplicate-flagged lead.
type ConflictError struct {
	Entity  string
	ID      string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s %s: %s", e.Entity, e.ID, e.Message)
}

// ThresholdExceededError reports a step whose failure ratio crossed the
// configured abort threshold. It marks the step, and transitively the job,
// failed.
type ThresholdExceededError struct {
	StepID    string
	Failed    int
	Total     int
	Threshold float64
}

func (e *ThresholdExceededError) Error() string {
	return fmt.Sprintf("step %s: failure ratio %d/%d exceeded threshold %.2f",
		e.StepID, e.Failed, e.Total, e.Threshold)
}
