package model

import "time"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

const (
	JobStatusDraft      JobStatus = "draft"
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a terminal lifecycle state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	default:
		return false
	}
}

// jobStatusRank orders lifecycle stages so transitions can be checked for
// monotonicity. Terminal states share the highest rank.
var jobStatusRank = map[JobStatus]int{
	JobStatusDraft:      0,
	JobStatusPending:    1,
	JobStatusInProgress: 2,
	JobStatusCompleted:  3,
	JobStatusCancelled:  3,
	JobStatusFailed:     3,
}

// CanTransition reports whether moving from s to next is a forward move.
// Transitions back to an earlier lifecycle stage are never allowed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	from, ok := jobStatusRank[s]
	if !ok {
		return false
	}
	to, ok := jobStatusRank[next]
	if !ok {
		return false
	}
	if s.Terminal() {
		return false
	}
	return to > from
}

var jobStatusOrder = []JobStatus{
	JobStatusDraft, JobStatusPending, JobStatusInProgress,
	JobStatusCompleted, JobStatusCancelled, JobStatusFailed,
}

// JobTransitionSources lists the statuses from which next is reachable.
// Stores use it to guard status writes atomically.
func JobTransitionSources(next JobStatus) []JobStatus {
	var sources []JobStatus
	for _, s := range jobStatusOrder {
		if s.CanTransition(next) {
			sources = append(sources, s)
		}
	}
	return sources
}

// JobConfig is the operator-supplied configuration for a new job.
type JobConfig struct {
	Platform string `json:"platform"`
	Locality string `json:"locality"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

// Job represents one configured crawl run against a listing platform.
type Job struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Locality string `json:"locality"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
	SeedURL  string `json:"seed_url"`

	Status      JobStatus `json:"status"`
	CurrentStep int       `json:"current_step"`
	TotalSteps  int       `json:"total_steps"`

	Extracted int `json:"extracted"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`

	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// CounterDelta holds counter increments applied atomically to a job and the
// step that produced them. All fields are deltas, not absolute values.
type CounterDelta struct {
	JobExtracted int
	JobPassed    int
	JobFailed    int

	StepReceived  int
	StepProcessed int
	StepPassed    int
	StepFailed    int
}
