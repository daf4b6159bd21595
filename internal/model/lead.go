package model

import "time"

// Progression tracks a lead's position within its current step's processing
// lifecycle.
type Progression string

const (
	ProgressionAvailable  Progression = "available"
	ProgressionProcessing Progression = "processing"
	ProgressionProcessed  Progression = "processed"
	ProgressionPassed     Progression = "passed"
	ProgressionFailed     Progression = "failed"
)

// progressionNext lists the legal forward transitions for each progression
// state. processed -> passed happens automatically on automatic steps and
// via an explicit operator pass on action_required steps; failed -> available
// is the operator retry path.
var progressionNext = map[Progression][]Progression{
	ProgressionAvailable:  {ProgressionProcessing},
	ProgressionProcessing: {ProgressionProcessed, ProgressionFailed},
	ProgressionProcessed:  {ProgressionPassed},
	ProgressionFailed:     {ProgressionAvailable},
}

// CanTransition reports whether moving from p to next is legal.
func (p Progression) CanTransition(next Progression) bool {
	for _, n := range progressionNext[p] {
		if n == next {
			return true
		}
	}
	return false
}

// FieldError describes a single validation failure on a lead field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Lead is one discovered business record progressing through a job's
// pipeline. Enrichment fields accumulate as steps complete.
type Lead struct {
	ID          string      `json:"id"`
	JobID       string      `json:"job_id"`
	CurrentStep int         `json:"current_step"`
	Progression Progression `json:"progression"`

	Name        string   `json:"name"`
	SourceURL   string   `json:"source_url"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`
	Address     string   `json:"address,omitempty"`
	Locality    string   `json:"locality,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Email       string   `json:"email,omitempty"`
	Website     string   `json:"website,omitempty"`
	Cuisine     string   `json:"cuisine,omitempty"`
	Tags        string   `json:"tags,omitempty"`

	IsDuplicate       bool   `json:"is_duplicate"`
	DuplicateOfLeadID string `json:"duplicate_of_lead_id,omitempty"`
	DuplicateOfPlace  string `json:"duplicate_of_place_id,omitempty"`

	IsValid          bool         `json:"is_valid"`
	ValidationErrors []FieldError `json:"validation_errors,omitempty"`

	ConvertedTo string     `json:"converted_to,omitempty"`
	ConvertedAt *time.Time `json:"converted_at,omitempty"`
	ConvertedBy string     `json:"converted_by,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Converted reports whether the lead has already been promoted to a
// permanent place entity. Conversion is terminal and irreversible.
func (l *Lead) Converted() bool {
	return l.ConvertedTo != ""
}

// LeadUpdate is a partial update applied to a lead by id. Nil fields are
// left untouched.
type LeadUpdate struct {
	CurrentStep *int         `json:"current_step,omitempty"`
	Progression *Progression `json:"progression,omitempty"`

	Name        *string  `json:"name,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`
	Address     *string  `json:"address,omitempty"`
	Locality    *string  `json:"locality,omitempty"`
	Phone       *string  `json:"phone,omitempty"`
	Email       *string  `json:"email,omitempty"`
	Website     *string  `json:"website,omitempty"`
	Cuisine     *string  `json:"cuisine,omitempty"`
	Tags        *string  `json:"tags,omitempty"`

	IsDuplicate       *bool   `json:"is_duplicate,omitempty"`
	DuplicateOfLeadID *string `json:"duplicate_of_lead_id,omitempty"`
	DuplicateOfPlace  *string `json:"duplicate_of_place_id,omitempty"`

	IsValid          *bool         `json:"is_valid,omitempty"`
	ValidationErrors *[]FieldError `json:"validation_errors,omitempty"`

	Error *string `json:"error,omitempty"`
}
