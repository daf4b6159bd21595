package model

import "time"

// StepType distinguishes stages that advance records on their own from
// stages that halt for operator review.
type StepType string

const (
	StepTypeAutomatic      StepType = "automatic"
	StepTypeActionRequired StepType = "action_required"
)

// StepStatus represents the execution state of one pipeline stage.
type StepStatus string

const (
	StepStatusPending        StepStatus = "pending"
	StepStatusInProgress     StepStatus = "in_progress"
	StepStatusActionRequired StepStatus = "action_required"
	StepStatusCompleted      StepStatus = "completed"
	StepStatusFailed         StepStatus = "failed"
)

// Step is one ordered stage of a job's pipeline, materialized at job start
// from the platform's stage template.
type Step struct {
	ID          string   `json:"id"`
	JobID       string   `json:"job_id"`
	StepNumber  int      `json:"step_number"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        StepType `json:"step_type"`

	Status StepStatus `json:"status"`

	Received  int `json:"received"`
	Processed int `json:"processed"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`

	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
