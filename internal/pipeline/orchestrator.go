package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/platewise/leadscout/internal/model"
	"github.com/platewise/leadscout/internal/store"
)

// Limit bounds for job creation.
const (
	minJobLimit = 1
	maxJobLimit = 999
)

// Orchestrator owns the job lifecycle: creation, start, cancellation,
// step advancement, and the operator actions on action_required steps.
type Orchestrator struct {
	store store.Store
	proc  *Processor
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(st store.Store, proc *Processor) *Orchestrator {
	return &Orchestrator{store: st, proc: proc}
}

// CreateJob validates the config and creates a job in draft. Steps are not
// materialized until StartJob.
func (o *Orchestrator) CreateJob(ctx context.Context, cfg model.JobConfig) (*model.Job, error) {
	template, err := PlatformTemplate(cfg.Platform)
	if err != nil {
		return nil, err
	}
	if cfg.Locality == "" {
		return nil, model.NewValidationError("locality", "locality is required")
	}
	if cfg.Limit < minJobLimit || cfg.Limit > maxJobLimit {
		return nil, model.NewValidationError("limit",
			fmt.Sprintf("limit must be between %d and %d", minJobLimit, maxJobLimit))
	}
	if cfg.Offset < 0 {
		return nil, model.NewValidationError("offset", "offset must not be negative")
	}

	job := &model.Job{
		ID:         uuid.New().String(),
		Platform:   cfg.Platform,
		Locality:   cfg.Locality,
		Category:   cfg.Category,
		Limit:      cfg.Limit,
		Offset:     cfg.Offset,
		SeedURL:    template.RenderSeedURL(cfg.Locality, cfg.Category),
		Status:     model.JobStatusDraft,
		TotalSteps: len(template.Stages),
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "orchestrator: create job")
	}
	zap.L().Info("orchestrator: job created",
		zap.String("job_id", job.ID),
		zap.String("platform", job.Platform),
		zap.String("locality", job.Locality))
	return job, nil
}

// StartJob materializes the job's steps from its platform template, moves
// the job draft -> pending -> in_progress, and runs automatic steps until an
// action_required stop, completion, or failure.
func (o *Orchestrator) StartJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: load job")
	}
	if job.Status != model.JobStatusDraft {
		return &model.InvalidStateError{Entity: "job", ID: job.ID, State: string(job.Status), Op: "start"}
	}
	template, err := PlatformTemplate(job.Platform)
	if err != nil {
		return err
	}

	steps := make([]model.Step, len(template.Stages))
	for i, stage := range template.Stages {
		steps[i] = model.Step{
			ID:          uuid.New().String(),
			JobID:       job.ID,
			StepNumber:  stage.Number,
			Name:        stage.Name,
			Description: stage.Description,
			Type:        stage.Type,
			Status:      model.StepStatusPending,
		}
	}
	if err := o.store.CreateSteps(ctx, steps); err != nil {
		return eris.Wrap(err, "orchestrator: materialize steps")
	}

	if err := o.store.UpdateJobStatus(ctx, job.ID, model.JobStatusPending, ""); err != nil {
		return eris.Wrap(err, "orchestrator: mark pending")
	}
	if err := o.store.UpdateJobStatus(ctx, job.ID, model.JobStatusInProgress, ""); err != nil {
		return eris.Wrap(err, "orchestrator: mark in progress")
	}
	if err := o.store.SetJobCurrentStep(ctx, job.ID, 1); err != nil {
		return eris.Wrap(err, "orchestrator: set first step")
	}
	zap.L().Info("orchestrator: job started",
		zap.String("job_id", job.ID), zap.Int("total_steps", len(steps)))

	return o.runFrom(ctx, job.ID)
}

// runFrom executes steps sequentially from the job's current step until an
// action_required stop, a terminal job state, or an error.
func (o *Orchestrator) runFrom(ctx context.Context, jobID string) error {
	for {
		job, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return eris.Wrap(err, "orchestrator: reload job")
		}
		if job.Status.Terminal() {
			return nil
		}
		if job.CurrentStep < 1 || job.CurrentStep > job.TotalSteps {
			return nil
		}

		step, err := o.stepByNumber(ctx, jobID, job.CurrentStep)
		if err != nil {
			return err
		}

		if err := o.proc.RunStep(ctx, step.ID); err != nil {
			var thresholdErr *model.ThresholdExceededError
			if eris.As(err, &thresholdErr) {
				// RunStep already marked the step and job failed.
				return err
			}
			msg := err.Error()
			_ = o.store.UpdateJobStatus(ctx, jobID, model.JobStatusFailed, msg)
			return err
		}

		done, err := o.stepByNumber(ctx, jobID, job.CurrentStep)
		if err != nil {
			return err
		}
		switch done.Status {
		case model.StepStatusCompleted:
			if err := o.Advance(ctx, jobID); err != nil {
				return err
			}
			current, err := o.store.GetJob(ctx, jobID)
			if err != nil {
				return eris.Wrap(err, "orchestrator: reload after advance")
			}
			if current.Status.Terminal() {
				return nil
			}
		case model.StepStatusActionRequired:
			zap.L().Info("orchestrator: awaiting operator action",
				zap.String("job_id", jobID), zap.Int("step", job.CurrentStep))
			return nil
		default:
			// Cancelled mid-step or otherwise not advanceable.
			return nil
		}
	}
}

// Advance moves the job to the next step, or completes it when the final
// step is done. Called by the processor path after a step completes.
func (o *Orchestrator) Advance(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: load job")
	}
	if job.Status.Terminal() {
		return nil
	}

	next := job.CurrentStep + 1
	if next > job.TotalSteps {
		if err := o.store.UpdateJobStatus(ctx, jobID, model.JobStatusCompleted, ""); err != nil {
			return eris.Wrap(err, "orchestrator: complete job")
		}
		zap.L().Info("orchestrator: job completed", zap.String("job_id", jobID))
		return nil
	}
	if err := o.store.SetJobCurrentStep(ctx, jobID, next); err != nil {
		return eris.Wrap(err, "orchestrator: advance current step")
	}
	return nil
}

// CancelJob cancels a non-terminal job. In-flight batches finish and
// persist; no further batches dispatch once the processor observes the
// status.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: load job")
	}
	if job.Status.Terminal() {
		return &model.InvalidStateError{Entity: "job", ID: job.ID, State: string(job.Status), Op: "cancel"}
	}
	if err := o.store.UpdateJobStatus(ctx, jobID, model.JobStatusCancelled, ""); err != nil {
		return eris.Wrap(err, "orchestrator: cancel job")
	}
	zap.L().Info("orchestrator: job cancelled", zap.String("job_id", jobID))
	return nil
}

// DeleteJob removes a job and, by cascade, its steps and leads.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID string) error {
	return o.store.DeleteJob(ctx, jobID)
}

// PassLeads is the operator approval on an action_required step: the named
// processed, valid, non-duplicate-checked leads move to passed and advance
// to the next step. Invalid leads are refused per id. When no leads remain
// outstanding on the step it completes and the job advances.
func (o *Orchestrator) PassLeads(ctx context.Context, stepID string, leadIDs []string) (*store.BulkResult, error) {
	step, err := o.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load step")
	}
	if step.Status != model.StepStatusActionRequired {
		return nil, &model.InvalidStateError{Entity: "step", ID: step.ID, State: string(step.Status), Op: "pass leads"}
	}
	job, err := o.store.GetJob(ctx, step.JobID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load job")
	}

	// Invalid leads cannot be passed; refuse them before the bulk move.
	result := &store.BulkResult{}
	var passable []string
	for _, id := range leadIDs {
		lead, err := o.store.GetLead(ctx, id)
		if err != nil {
			result.Failed = append(result.Failed, store.TransitionFailure{ID: id, Reason: "lead not found"})
			continue
		}
		if !lead.IsValid {
			result.Failed = append(result.Failed, store.TransitionFailure{ID: id, Reason: "lead is invalid"})
			continue
		}
		if lead.CurrentStep != step.StepNumber {
			result.Failed = append(result.Failed, store.TransitionFailure{
				ID: id, Reason: fmt.Sprintf("lead is on step %d", lead.CurrentStep)})
			continue
		}
		passable = append(passable, id)
	}

	moved, err := o.store.BulkTransition(ctx, passable,
		[]model.Progression{model.ProgressionProcessed}, model.ProgressionPassed)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: pass leads")
	}
	result.Updated = moved.Updated
	result.Failed = append(result.Failed, moved.Failed...)

	if len(result.Updated) > 0 {
		delta := model.CounterDelta{}
		if step.StepNumber >= job.TotalSteps {
			delta.JobPassed = len(result.Updated)
		} else if _, err := o.store.AdvanceLeads(ctx, result.Updated, step.StepNumber+1); err != nil {
			return nil, eris.Wrap(err, "orchestrator: advance passed leads")
		}
		if delta != (model.CounterDelta{}) {
			if err := o.store.IncrementCounters(ctx, job.ID, step.ID, delta); err != nil {
				return nil, eris.Wrap(err, "orchestrator: pass counters")
			}
		}
	}

	outstanding, err := o.outstandingOnStep(ctx, job.ID, step.StepNumber)
	if err != nil {
		return nil, err
	}
	if outstanding == 0 {
		if err := o.store.UpdateStepStatus(ctx, step.ID, model.StepStatusCompleted, ""); err != nil {
			return nil, eris.Wrap(err, "orchestrator: complete step")
		}
		if err := o.Advance(ctx, job.ID); err != nil {
			return nil, err
		}
		if err := o.runFrom(ctx, job.ID); err != nil {
			return result, err
		}
	}
	return result, nil
}

// RetryLeads returns failed leads to available on their current step and
// re-runs the step so they are re-processed. Each retried lead gives back
// its earlier failure count so the re-run's outcome is counted exactly once:
// passed + failed never exceeds extracted.
func (o *Orchestrator) RetryLeads(ctx context.Context, stepID string, leadIDs []string) (*store.BulkResult, error) {
	step, err := o.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load step")
	}

	result, err := o.store.BulkTransition(ctx, leadIDs,
		[]model.Progression{model.ProgressionFailed}, model.ProgressionAvailable)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: retry leads")
	}
	if len(result.Updated) == 0 {
		return result, nil
	}

	if err := o.store.IncrementCounters(ctx, step.JobID, step.ID, model.CounterDelta{
		JobFailed:  -len(result.Updated),
		StepFailed: -len(result.Updated),
	}); err != nil {
		return nil, eris.Wrap(err, "orchestrator: retry counters")
	}

	if err := o.proc.RunStep(ctx, step.ID); err != nil {
		return result, err
	}
	return result, nil
}

// outstandingOnStep counts leads still held by a step: available,
// processing, or processed (awaiting pass).
func (o *Orchestrator) outstandingOnStep(ctx context.Context, jobID string, stepNumber int) (int, error) {
	total := 0
	for _, progression := range []model.Progression{
		model.ProgressionAvailable, model.ProgressionProcessing, model.ProgressionProcessed,
	} {
		leads, err := o.store.ListLeads(ctx, store.LeadFilter{
			JobID:       jobID,
			CurrentStep: stepNumber,
			Progression: progression,
		})
		if err != nil {
			return 0, eris.Wrap(err, "orchestrator: count outstanding")
		}
		total += len(leads)
	}
	return total, nil
}

// stepByNumber loads the step row for a job's 1-based step number.
func (o *Orchestrator) stepByNumber(ctx context.Context, jobID string, number int) (*model.Step, error) {
	steps, err := o.store.ListSteps(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: list steps")
	}
	for i := range steps {
		if steps[i].StepNumber == number {
			return &steps[i], nil
		}
	}
	return nil, eris.Errorf("orchestrator: job %s has no step %d", jobID, number)
}
