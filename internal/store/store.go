package store

import (
	"context"

	"github.com/platewise/leadscout/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status   model.JobStatus `json:"status,omitempty"`
	Platform string          `json:"platform,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	JobID       string            `json:"job_id,omitempty"`
	CurrentStep int               `json:"current_step,omitempty"`
	Progression model.Progression `json:"progression,omitempty"`
	Limit       int               `json:"limit,omitempty"`
	Offset      int               `json:"offset,omitempty"`
}

// TransitionFailure records one lead that could not be transitioned.
type TransitionFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult reports the per-id outcome of a bulk transition. A failure on
// one id never rolls back the others.
type BulkResult struct {
	Updated []string            `json:"updated"`
	Failed  []TransitionFailure `json:"failed,omitempty"`
}

// Store defines the persistence interface for the lead-scrape pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	// UpdateJobStatus refuses backwards lifecycle moves and writes against a
	// terminal job with model.InvalidStateError. Same-status writes pass.
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error
	SetJobCurrentStep(ctx context.Context, jobID string, currentStep int) error
	DeleteJob(ctx context.Context, jobID string) error

	// Steps
	CreateSteps(ctx context.Context, steps []model.Step) error
	GetStep(ctx context.Context, stepID string) (*model.Step, error)
	ListSteps(ctx context.Context, jobID string) ([]model.Step, error)
	UpdateStepStatus(ctx context.Context, stepID string, status model.StepStatus, errMsg string) error
	SetStepMetadata(ctx context.Context, stepID string, metadata map[string]any) error

	// Leads
	InsertLeads(ctx context.Context, leads []model.Lead) (int, error)
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	UpdateLead(ctx context.Context, leadID string, update model.LeadUpdate) error
	DeleteLead(ctx context.Context, leadID string) error

	// Pipeline progression
	SelectEligible(ctx context.Context, jobID string, stepNumber, limit int) ([]model.Lead, error)
	ClaimLeads(ctx context.Context, leadIDs []string) ([]string, error)
	BulkTransition(ctx context.Context, leadIDs []string, from []model.Progression, to model.Progression) (*BulkResult, error)
	AdvanceLeads(ctx context.Context, leadIDs []string, nextStep int) (int, error)
	FindBySourceURL(ctx context.Context, jobID, sourceURL, excludeLeadID string) (*model.Lead, error)
	MarkConverted(ctx context.Context, leadID, placeID, convertedBy string) (bool, error)

	// Counters. Job and step deltas are applied in one transaction with
	// SQL-side addition so concurrent batch completions never lose updates.
	IncrementCounters(ctx context.Context, jobID, stepID string, delta model.CounterDelta) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
