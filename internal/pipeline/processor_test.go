package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/leadscout/internal/model"
	"github.com/platewise/leadscout/internal/store"
	"github.com/platewise/leadscout/pkg/extractor"
	"github.com/platewise/leadscout/pkg/places"
)

func TestRunStep_DiscoveryDedupesAndAdvances(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, steps := seedStartedJob(t, st, 25)

	// 25 raw listings, 3 of them repeats of earlier URLs.
	listings := makeListings(22)
	listings = append(listings, listings[0], listings[5], listings[9])

	fake := &fakeExtractor{fn: func(req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
		return &extractor.ExtractResponse{Success: true, Listings: listings}, nil
	}}
	proc := NewProcessor(st, newTestLimited(fake, 2), nil, 0)

	require.NoError(t, proc.RunStep(ctx, steps[0].ID))

	require.Equal(t, 1, fake.callCount())
	assert.Equal(t, job.SeedURL, fake.calls[0].URL)
	assert.Equal(t, 25, fake.calls[0].Limit)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 22, got.Extracted)
	assert.Equal(t, 0, got.Failed)

	step, err := st.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusCompleted, step.Status)
	assert.Equal(t, 22, step.Received)
	assert.Equal(t, 22, step.Processed)
	assert.Equal(t, 22, step.Passed)
	assert.Equal(t, 0, step.Failed)

	// All discovered leads advanced to step 2, available for enrichment.
	advanced, err := st.ListLeads(ctx, store.LeadFilter{
		JobID: job.ID, CurrentStep: 2, Progression: model.ProgressionAvailable,
	})
	require.NoError(t, err)
	assert.Len(t, advanced, 22)
}

func TestRunStep_DiscoveryRerunInsertsNothingNew(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, steps := seedStartedJob(t, st, 10)

	fake := &fakeExtractor{fn: func(req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
		return &extractor.ExtractResponse{Success: true, Listings: makeListings(5)}, nil
	}}
	proc := NewProcessor(st, newTestLimited(fake, 2), nil, 0)

	require.NoError(t, proc.RunStep(ctx, steps[0].ID))
	require.NoError(t, proc.RunStep(ctx, steps[0].ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Extracted)

	leads, err := st.ListLeads(ctx, store.LeadFilter{JobID: job.ID})
	require.NoError(t, err)
	assert.Len(t, leads, 5)
}

func TestRunStep_EnrichmentAdvancesValidLeads(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, steps := seedStartedJob(t, st, 10)
	require.NoError(t, st.SetJobCurrentStep(ctx, job.ID, 2))
	seeded := seedLeadsAtStep(t, st, job.ID, 2, 4)

	fake := &fakeExtractor{fn: func(req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
		return &extractor.ExtractResponse{Success: true, Fields: detailFields()}, nil
	}}
	proc := NewProcessor(st, newTestLimited(fake, 2), nil, 0)

	require.NoError(t, proc.RunStep(ctx, steps[1].ID))

	assert.Equal(t, 4, fake.callCount())

	step, err := st.GetStep(ctx, steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusCompleted, step.Status)
	assert.Equal(t, 4, step.Received)
	assert.Equal(t, 4, step.Passed)
	assert.Equal(t, 0, step.Failed)

	// Enrichment fields landed on the lead.
	lead, err := st.GetLead(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "123 Mission St", lead.Address)
	assert.Equal(t, "Mexican", lead.Cuisine)
	require.NotNil(t, lead.Rating)
	assert.Equal(t, 4.5, *lead.Rating)
	assert.True(t, lead.IsValid)

	advanced, err := st.ListLeads(ctx, store.LeadFilter{
		JobID: job.ID, CurrentStep: 3, Progression: model.ProgressionAvailable,
	})
	require.NoError(t, err)
	assert.Len(t, advanced, 4)

	// Passed counts only accrue on the final step.
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Passed)
}

func TestRunStep_EnrichmentValidationFailure(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, steps := seedStartedJob(t, st, 10)
	require.NoError(t, st.SetJobCurrentStep(ctx, job.ID, 2))
	seeded := seedLeadsAtStep(t, st, job.ID, 2, 4)

	// The first lead's detail page yields no address, which stage 2 requires.
	fake := &fakeExtractor{fn: func(req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
		if req.URL == seeded[0].SourceURL {
			return &extractor.ExtractResponse{Success: true, Fields: map[string]string{"cuisine": "Mexican"}}, nil
		}
		return &extractor.ExtractResponse{Success: true, Fields: detailFields()}, nil
	}}
	proc := NewProcessor(st, newTestLimited(fake, 2), nil, 0)

	require.NoError(t, proc.RunStep(ctx, steps[1].ID))

	failed, err := st.GetLead(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProgressionFailed, failed.Progression)
	assert.False(t, failed.IsValid)
	assert.Equal(t, "validation failed", failed.Error)
	require.Len(t, failed.ValidationErrors, 1)
	assert.Equal(t, "address", failed.ValidationErrors[0].Field)

	step, err := st.GetStep(ctx, steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusCompleted, step.Status)
	assert.Equal(t, 3, step.Passed)
	assert.Equal(t, 1, step.Failed)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Failed)
}

func TestRunStep_ExtractionFailureThresholdAborts(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, steps := seedStartedJob(t, st, 10)
	require.NoError(t, st.SetJobCurrentStep(ctx, job.ID, 2))
	seeded := seedLeadsAtStep(t, st, job.ID, 2, 4)

	// Three of four extractions fail permanently: 0.75 > 0.5.
	fake := &fakeExtractor{fn: func(req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
		if req.URL == seeded[3].SourceURL {
			return &extractor.ExtractResponse{Success: true, Fields: detailFields()}, nil
		}
		return nil, &extractor.APIError{StatusCode: 422, Body: "unsupported page"}
	}}
	proc := NewProcessor(st, newTestLimited(fake, 4), nil, 0)

	err := proc.RunStep(ctx, steps[1].ID)
	require.Error(t, err)

	var thresholdErr *model.ThresholdExceededError
	require.ErrorAs(t, err, &thresholdErr)
	assert.Equal(t, 3, thresholdErr.Failed)
	assert.Equal(t, 4, thresholdErr.Total)

	step, err := st.GetStep(ctx, steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusFailed, step.Status)
	assert.NotEmpty(t, step.Error)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)

	// The extraction error lands on the lead, not the step.
	lead, err := st.GetLead(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProgressionFailed, lead.Progression)
	assert.Contains(t, lead.Error, "422")
}

func TestRunStep_ThresholdNeverOverridesCancellation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, steps := seedStartedJob(t, st, 10)
	require.NoError(t, st.SetJobCurrentStep(ctx, job.ID, 2))
	seedLeadsAtStep(t, st, job.ID, 2, 4)

	// The job is cancelled while the batch is in flight; every extraction
	// in that batch fails.
	var once sync.Once
	fake := &fakeExtractor{}
	fake.fn = func(req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
		once.Do(func() {
			_ = st.UpdateJobStatus(ctx, job.ID, model.JobStatusCancelled, "")
		})
		return nil, &extractor.APIError{StatusCode: 422, Body: "unsupported page"}
	}
	proc := NewProcessor(st, newTestLimited(fake, 4), nil, 0)

	err := proc.RunStep(ctx, steps[1].ID)
	var thresholdErr *model.ThresholdExceededError
	require.ErrorAs(t, err, &thresholdErr)

	step, err := st.GetStep(ctx, steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusFailed, step.Status)

	// The cancelled job stays cancelled.
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.NotNil(t, got.CancelledAt)
	assert.Nil(t, got.CompletedAt)
}

func TestRunStep_ActionRequiredHoldsLeads(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, steps := seedStartedJob(t, st, 10)
	require.NoError(t, st.SetJobCurrentStep(ctx, job.ID, 3))
	seedLeadsAtStep(t, st, job.ID, 3, 3)

	fake := &fakeExtractor{fn: func(req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
		return &extractor.ExtractResponse{Success: true, Fields: contactFields()}, nil
	}}
	proc := NewProcessor(st, newTestLimited(fake, 2), nil, 0)

	require.NoError(t, proc.RunStep(ctx, steps[2].ID))

	step, err := st.GetStep(ctx, steps[2].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusActionRequired, step.Status)

	held, err := st.ListLeads(ctx, store.LeadFilter{
		JobID: job.ID, CurrentStep: 3, Progression: model.ProgressionProcessed,
	})
	require.NoError(t, err)
	assert.Len(t, held, 3)

	// No leads pass a held step until an operator acts.
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Passed)
	assert.Equal(t, model.JobStatusInProgress, got.Status)
}

func TestRunStep_EnrichmentFlagsDuplicates(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, steps := seedStartedJob(t, st, 10)
	require.NoError(t, st.SetJobCurrentStep(ctx, job.ID, 2))
	seeded := seedLeadsAtStep(t, st, job.ID, 2, 1)

	pl := &fakePlaces{existed: []places.Place{
		{ID: "place-41", Name: "Restaurant 1 LLC", Locality: "San Francisco"},
	}}
	fake := &fakeExtractor{fn: func(req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
		return &extractor.ExtractResponse{Success: true, Fields: detailFields()}, nil
	}}
	proc := NewProcessor(st, newTestLimited(fake, 2), NewDeduper(st, pl, 0), 0)

	require.NoError(t, proc.RunStep(ctx, steps[1].ID))

	lead, err := st.GetLead(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.True(t, lead.IsDuplicate)
	assert.Equal(t, "place-41", lead.DuplicateOfPlace)

	// Duplicates are flagged, not rejected: the lead still advances.
	assert.Equal(t, 3, lead.CurrentStep)
	assert.Equal(t, model.ProgressionAvailable, lead.Progression)
}

func TestRunStep_CancellationStopsFurtherBatches(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, steps := seedStartedJob(t, st, 10)
	require.NoError(t, st.SetJobCurrentStep(ctx, job.ID, 2))
	seedLeadsAtStep(t, st, job.ID, 2, 6)

	// Cancel mid-flight during the first batch. That batch finishes and
	// persists; no second batch dispatches.
	var once sync.Once
	fake := &fakeExtractor{}
	fake.fn = func(req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
		once.Do(func() {
			_ = st.UpdateJobStatus(ctx, job.ID, model.JobStatusCancelled, "")
		})
		return &extractor.ExtractResponse{Success: true, Fields: detailFields()}, nil
	}
	proc := NewProcessor(st, newTestLimited(fake, 2), nil, 0)

	require.NoError(t, proc.RunStep(ctx, steps[1].ID))

	assert.Equal(t, 2, fake.callCount())

	// The in-flight batch's results persisted and advanced.
	advanced, err := st.ListLeads(ctx, store.LeadFilter{
		JobID: job.ID, CurrentStep: 3, Progression: model.ProgressionAvailable,
	})
	require.NoError(t, err)
	assert.Len(t, advanced, 2)

	remaining, err := st.ListLeads(ctx, store.LeadFilter{
		JobID: job.ID, CurrentStep: 2, Progression: model.ProgressionAvailable,
	})
	require.NoError(t, err)
	assert.Len(t, remaining, 4)

	// The step is abandoned where the last batch left it.
	step, err := st.GetStep(ctx, steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusInProgress, step.Status)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
}

func TestRunStep_PassedCountsOnlyOnFinalStep(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, steps := seedStartedJob(t, st, 10)

	fake := &fakeExtractor{fn: func(req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
		if req.Schema == "ubereats_listing_v1" {
			return &extractor.ExtractResponse{Success: true, Listings: makeListings(3)}, nil
		}
		return &extractor.ExtractResponse{Success: true, Fields: detailFields()}, nil
	}}
	proc := NewProcessor(st, newTestLimited(fake, 2), nil, 0)

	require.NoError(t, proc.RunStep(ctx, steps[0].ID))
	require.NoError(t, st.SetJobCurrentStep(ctx, job.ID, 2))
	require.NoError(t, proc.RunStep(ctx, steps[1].ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Extracted)
	assert.Equal(t, 0, got.Passed)
}
