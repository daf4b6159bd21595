package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/platewise/leadscout/internal/extract"
	"github.com/platewise/leadscout/internal/model"
	"github.com/platewise/leadscout/internal/store"
	"github.com/platewise/leadscout/pkg/extractor"
)

// DefaultFailureThreshold is the step failure ratio above which the step,
// and transitively the job, is marked failed.
const DefaultFailureThreshold = 0.5

// Processor executes one pipeline stage for a job's eligible leads:
// claiming, concurrent extraction, validation, deduplication, and per-batch
// counter updates.
type Processor struct {
	store     store.Store
	extractor *extract.Limited
	deduper   *Deduper
	threshold float64
}

// NewProcessor creates a Processor. failureThreshold <= 0 uses the default.
func NewProcessor(st store.Store, ex *extract.Limited, dd *Deduper, failureThreshold float64) *Processor {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	return &Processor{store: st, extractor: ex, deduper: dd, threshold: failureThreshold}
}

// stageHandler runs one kind of stage. The processor dispatches through
// this table keyed by the closed StageKind enum.
type stageHandler func(p *Processor, ctx context.Context, run *stepRun) error

var stageHandlers = map[StageKind]stageHandler{
	KindDiscovery:  (*Processor).runDiscovery,
	KindEnrichment: (*Processor).runEnrichment,
}

// stepRun carries the loaded state for one RunStep invocation.
type stepRun struct {
	job   *model.Job
	step  *model.Step
	stage *StageSpec

	// running totals for the failure-ratio abort
	received int
	failed   int
}

func (r *stepRun) finalStep() bool {
	return r.step.StepNumber >= r.job.TotalSteps
}

// RunStep executes the given step. Automatic steps end completed with their
// valid leads passed and advanced; action_required steps end in
// action_required with leads held at processed. A failure ratio above the
// threshold marks the step and job failed and returns
// ThresholdExceededError.
func (p *Processor) RunStep(ctx context.Context, stepID string) error {
	step, err := p.store.GetStep(ctx, stepID)
	if err != nil {
		return eris.Wrap(err, "processor: load step")
	}
	job, err := p.store.GetJob(ctx, step.JobID)
	if err != nil {
		return eris.Wrap(err, "processor: load job")
	}
	template, err := PlatformTemplate(job.Platform)
	if err != nil {
		return err
	}
	stage, err := template.Stage(step.StepNumber)
	if err != nil {
		return err
	}

	logger := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("step_id", step.ID),
		zap.Int("step_number", step.StepNumber),
		zap.String("kind", string(stage.Kind)),
	)
	logger.Info("processor: step starting")

	if err := p.store.UpdateStepStatus(ctx, step.ID, model.StepStatusInProgress, ""); err != nil {
		return eris.Wrap(err, "processor: mark step in progress")
	}

	run := &stepRun{job: job, step: step, stage: stage}
	if err := stageHandlers[stage.Kind](p, ctx, run); err != nil {
		var thresholdErr *model.ThresholdExceededError
		if eris.As(err, &thresholdErr) {
			// The step and job are both terminal; the message lands on each.
			_ = p.store.UpdateStepStatus(ctx, step.ID, model.StepStatusFailed, err.Error())
			_ = p.store.UpdateJobStatus(ctx, job.ID, model.JobStatusFailed, err.Error())
			logger.Warn("processor: failure threshold exceeded",
				zap.Int("failed", thresholdErr.Failed), zap.Int("total", thresholdErr.Total))
			return err
		}
		_ = p.store.UpdateStepStatus(ctx, step.ID, model.StepStatusFailed, err.Error())
		return err
	}

	// Cancellation leaves the step where the last batch put it.
	current, err := p.store.GetJob(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "processor: reload job")
	}
	if current.Status == model.JobStatusCancelled {
		logger.Info("processor: job cancelled, step abandoned")
		return nil
	}

	final := model.StepStatusCompleted
	if step.Type == model.StepTypeActionRequired {
		final = model.StepStatusActionRequired
	}
	if err := p.store.UpdateStepStatus(ctx, step.ID, final, ""); err != nil {
		return eris.Wrap(err, "processor: finish step")
	}
	logger.Info("processor: step finished", zap.String("status", string(final)))
	return nil
}

// runDiscovery extracts the job's listing page and fans discovered
// businesses into new leads. In-batch exact-key duplicates are flagged and
// the insert keys its conflict target on the store's (job_id, source_url)
// uniqueness, so re-runs never create copies.
func (p *Processor) runDiscovery(ctx context.Context, run *stepRun) error {
	resp, err := p.extractor.Extract(ctx, extractor.ExtractRequest{
		URL:    run.job.SeedURL,
		Schema: run.stage.Schema,
		Offset: run.job.Offset,
		Limit:  run.job.Limit,
	})
	if err != nil {
		// A failed listing-page extraction starves the whole job.
		return eris.Wrap(err, "processor: discovery extraction")
	}

	now := time.Now().UTC()
	seen := make(map[string]bool, len(resp.Listings))
	var leads []model.Lead
	for _, listing := range resp.Listings {
		if listing.URL == "" || seen[listing.URL] {
			continue
		}
		seen[listing.URL] = true

		lead := model.Lead{
			ID:          uuid.New().String(),
			JobID:       run.job.ID,
			CurrentStep: run.step.StepNumber,
			Progression: model.ProgressionAvailable,
			Name:        CleanField(listing.Name),
			SourceURL:   listing.URL,
			Rating:      listing.Rating,
			ReviewCount: listing.ReviewCount,
			Locality:    run.job.Locality,
			IsValid:     true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if listing.Locality != "" {
			lead.Locality = CleanField(listing.Locality)
		}
		leads = append(leads, lead)
	}

	inserted, err := p.store.InsertLeads(ctx, leads)
	if err != nil {
		return eris.Wrap(err, "processor: insert discovered leads")
	}
	zap.L().Info("processor: discovery complete",
		zap.String("job_id", run.job.ID),
		zap.Int("raw", len(resp.Listings)),
		zap.Int("inserted", inserted))

	// Discovered leads flow through the same claim/validate/pass path as an
	// enrichment batch, minus the per-lead extraction.
	eligible, err := p.store.SelectEligible(ctx, run.job.ID, run.step.StepNumber, 0)
	if err != nil {
		return eris.Wrap(err, "processor: select discovered leads")
	}

	ids := make([]string, len(eligible))
	for i, l := range eligible {
		ids[i] = l.ID
	}
	claimed, err := p.store.ClaimLeads(ctx, ids)
	if err != nil {
		return eris.Wrap(err, "processor: claim discovered leads")
	}
	claimedSet := make(map[string]bool, len(claimed))
	for _, id := range claimed {
		claimedSet[id] = true
	}

	var passed, failed []string
	for i := range eligible {
		lead := &eligible[i]
		if !claimedSet[lead.ID] {
			continue
		}
		valid, fieldErrs := Validate(run.stage, lead)
		if err := p.persistOutcome(ctx, lead, nil, valid, fieldErrs, nil); err != nil {
			return err
		}
		if valid {
			passed = append(passed, lead.ID)
		} else {
			failed = append(failed, lead.ID)
		}
	}

	delta := model.CounterDelta{
		JobExtracted:  inserted,
		JobFailed:     len(failed),
		StepReceived:  len(claimed),
		StepProcessed: len(claimed),
		StepPassed:    len(passed),
		StepFailed:    len(failed),
	}
	if run.finalStep() {
		delta.JobPassed = len(passed)
	}
	if err := p.store.IncrementCounters(ctx, run.job.ID, run.step.ID, delta); err != nil {
		return eris.Wrap(err, "processor: discovery counters")
	}

	run.received += len(claimed)
	run.failed += len(failed)
	if err := p.checkThreshold(run); err != nil {
		return err
	}
	return p.passAndAdvance(ctx, run, passed)
}

// runEnrichment processes the step's eligible leads in batches sized to the
// extraction concurrency cap. Counters update after every batch so progress
// is observable mid-run, and the cancellation flag is re-checked before each
// new batch dispatches.
func (p *Processor) runEnrichment(ctx context.Context, run *stepRun) error {
	batchSize := p.extractor.Concurrency()

	for {
		job, err := p.store.GetJob(ctx, run.job.ID)
		if err != nil {
			return eris.Wrap(err, "processor: check job status")
		}
		if job.Status == model.JobStatusCancelled {
			zap.L().Info("processor: cancellation observed, no further batches",
				zap.String("job_id", run.job.ID))
			return nil
		}

		eligible, err := p.store.SelectEligible(ctx, run.job.ID, run.step.StepNumber, batchSize)
		if err != nil {
			return eris.Wrap(err, "processor: select eligible")
		}
		if len(eligible) == 0 {
			return nil
		}

		ids := make([]string, len(eligible))
		byID := make(map[string]*model.Lead, len(eligible))
		for i := range eligible {
			ids[i] = eligible[i].ID
			byID[eligible[i].ID] = &eligible[i]
		}
		claimed, err := p.store.ClaimLeads(ctx, ids)
		if err != nil {
			return eris.Wrap(err, "processor: claim leads")
		}
		if len(claimed) == 0 {
			continue
		}

		items := make([]extract.BatchItem, len(claimed))
		for i, id := range claimed {
			items[i] = extract.BatchItem{
				Key: id,
				Request: extractor.ExtractRequest{
					URL:    byID[id].SourceURL,
					Schema: run.stage.Schema,
				},
			}
		}
		results := p.extractor.ExtractBatch(ctx, items)

		var passed, failed []string
		for _, res := range results {
			lead := byID[res.Key]
			if res.Err != nil {
				msg := res.Err.Error()
				if err := p.persistFailure(ctx, lead, msg); err != nil {
					return err
				}
				failed = append(failed, lead.ID)
				continue
			}

			fields := CleanFields(res.Response.Fields)
			merged := applyFields(lead, fields)
			valid, fieldErrs := Validate(run.stage, merged)

			var dup *DupResult
			if valid && p.deduper != nil {
				dup, err = p.deduper.Check(ctx, merged)
				if err != nil {
					return eris.Wrap(err, "processor: dedupe")
				}
			}
			if err := p.persistOutcome(ctx, merged, fields, valid, fieldErrs, dup); err != nil {
				return err
			}
			if valid {
				passed = append(passed, lead.ID)
			} else {
				failed = append(failed, lead.ID)
			}
		}

		delta := model.CounterDelta{
			JobFailed:     len(failed),
			StepReceived:  len(claimed),
			StepProcessed: len(claimed),
			StepPassed:    len(passed),
			StepFailed:    len(failed),
		}
		if run.step.Type == model.StepTypeAutomatic && run.finalStep() {
			delta.JobPassed = len(passed)
		}
		if err := p.store.IncrementCounters(ctx, run.job.ID, run.step.ID, delta); err != nil {
			return eris.Wrap(err, "processor: batch counters")
		}

		run.received += len(claimed)
		run.failed += len(failed)
		if err := p.checkThreshold(run); err != nil {
			return err
		}

		if run.step.Type == model.StepTypeAutomatic {
			if err := p.passAndAdvance(ctx, run, passed); err != nil {
				return err
			}
		}
		// action_required: leads hold at processed until an operator acts.
	}
}

// persistOutcome writes a processed lead's validation and dedup results.
// Valid leads land processed; invalid leads land failed with their field
// errors attached for operator review and retry.
func (p *Processor) persistOutcome(ctx context.Context, lead *model.Lead, fields map[string]string, valid bool, fieldErrs []model.FieldError, dup *DupResult) error {
	update := model.LeadUpdate{IsValid: &valid}
	fillFieldUpdate(&update, lead, fields)

	progression := model.ProgressionProcessed
	if !valid {
		progression = model.ProgressionFailed
		errMsg := "validation failed"
		update.Error = &errMsg
	}
	update.Progression = &progression
	update.ValidationErrors = &fieldErrs

	if dup != nil && dup.IsDuplicate {
		t := true
		update.IsDuplicate = &t
		if dup.OfLeadID != "" {
			update.DuplicateOfLeadID = &dup.OfLeadID
		}
		if dup.OfPlaceID != "" {
			update.DuplicateOfPlace = &dup.OfPlaceID
		}
	}

	if err := p.store.UpdateLead(ctx, lead.ID, update); err != nil {
		return eris.Wrapf(err, "processor: persist lead %s", lead.ID)
	}
	return nil
}

// persistFailure marks a lead failed after its extraction exhausted the
// retry budget or hit a permanent error. The error stays on the lead, never
// the step.
func (p *Processor) persistFailure(ctx context.Context, lead *model.Lead, msg string) error {
	progression := model.ProgressionFailed
	update := model.LeadUpdate{
		Progression: &progression,
		Error:       &msg,
	}
	if err := p.store.UpdateLead(ctx, lead.ID, update); err != nil {
		return eris.Wrapf(err, "processor: persist failed lead %s", lead.ID)
	}
	return nil
}

// passAndAdvance moves processed leads to passed and, when a later step
// exists, re-points them at it as available.
func (p *Processor) passAndAdvance(ctx context.Context, run *stepRun, leadIDs []string) error {
	if len(leadIDs) == 0 {
		return nil
	}
	res, err := p.store.BulkTransition(ctx, leadIDs,
		[]model.Progression{model.ProgressionProcessed}, model.ProgressionPassed)
	if err != nil {
		return eris.Wrap(err, "processor: pass leads")
	}
	if run.finalStep() {
		return nil
	}
	if _, err := p.store.AdvanceLeads(ctx, res.Updated, run.step.StepNumber+1); err != nil {
		return eris.Wrap(err, "processor: advance leads")
	}
	return nil
}

func (p *Processor) checkThreshold(run *stepRun) error {
	if run.received == 0 {
		return nil
	}
	ratio := float64(run.failed) / float64(run.received)
	if ratio <= p.threshold {
		return nil
	}
	return &model.ThresholdExceededError{
		StepID:    run.step.ID,
		Failed:    run.failed,
		Total:     run.received,
		Threshold: p.threshold,
	}
}

// applyFields merges cleaned extraction fields into a copy of the lead so
// validation sees the post-step state.
func applyFields(lead *model.Lead, fields map[string]string) *model.Lead {
	merged := *lead
	for key, value := range fields {
		switch key {
		case "name":
			merged.Name = value
		case "address":
			merged.Address = value
		case "locality":
			merged.Locality = value
		case "phone":
			merged.Phone = value
		case "email":
			merged.Email = value
		case "website":
			merged.Website = value
		case "cuisine":
			merged.Cuisine = value
		case "tags":
			merged.Tags = value
		case "rating":
			if r, err := strconv.ParseFloat(value, 64); err == nil {
				merged.Rating = &r
			}
		case "review_count":
			if n, err := strconv.Atoi(value); err == nil {
				merged.ReviewCount = &n
			}
		}
	}
	return &merged
}

// fillFieldUpdate copies the merged enrichment values into a partial update.
// Only fields the extraction actually returned are written.
func fillFieldUpdate(update *model.LeadUpdate, lead *model.Lead, fields map[string]string) {
	for key := range fields {
		switch key {
		case "name":
			update.Name = &lead.Name
		case "address":
			update.Address = &lead.Address
		case "locality":
			update.Locality = &lead.Locality
		case "phone":
			update.Phone = &lead.Phone
		case "email":
			update.Email = &lead.Email
		case "website":
			update.Website = &lead.Website
		case "cuisine":
			update.Cuisine = &lead.Cuisine
		case "tags":
			update.Tags = &lead.Tags
		case "rating":
			update.Rating = lead.Rating
		case "review_count":
			update.ReviewCount = lead.ReviewCount
		}
	}
}
