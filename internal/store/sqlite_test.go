package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/leadscout/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedJob(t *testing.T, st *SQLiteStore) *model.Job {
	t.Helper()
	job := &model.Job{
		ID:         uuid.New().String(),
		Platform:   "ubereats",
		Locality:   "San Francisco",
		Category:   "mexican",
		Limit:      25,
		SeedURL:    "https://www.ubereats.com/city/san-francisco-ca",
		Status:     model.JobStatusDraft,
		TotalSteps: 3,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

func seedSteps(t *testing.T, st *SQLiteStore, jobID string) []model.Step {
	t.Helper()
	steps := []model.Step{
		{ID: uuid.New().String(), JobID: jobID, StepNumber: 1, Name: "discovery", Type: model.StepTypeAutomatic, Status: model.StepStatusPending},
		{ID: uuid.New().String(), JobID: jobID, StepNumber: 2, Name: "detail enrichment", Type: model.StepTypeAutomatic, Status: model.StepStatusPending},
		{ID: uuid.New().String(), JobID: jobID, StepNumber: 3, Name: "contact lookup", Type: model.StepTypeActionRequired, Status: model.StepStatusPending},
	}
	require.NoError(t, st.CreateSteps(context.Background(), steps))
	return steps
}

func seedLead(t *testing.T, st *SQLiteStore, jobID, sourceURL string) model.Lead {
	t.Helper()
	now := time.Now().UTC()
	lead := model.Lead{
		ID:          uuid.New().String(),
		JobID:       jobID,
		CurrentStep: 1,
		Progression: model.ProgressionAvailable,
		Name:        "Taco Town",
		SourceURL:   sourceURL,
		IsValid:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	n, err := st.InsertLeads(context.Background(), []model.Lead{lead})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return lead
}

// --- Jobs ---

func TestSQLite_JobLifecycleTimestamps(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)

	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusPending, ""))
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)

	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusInProgress, ""))
	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	started := *got.StartedAt

	// A second in_progress update must not re-stamp started_at.
	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusInProgress, ""))
	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, started, *got.StartedAt)

	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusCompleted, ""))
	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.CancelledAt)
}

func TestSQLite_CancelStampsCancelledAt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)

	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusCancelled, ""))
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.CancelledAt)
	assert.Nil(t, got.CompletedAt)
}

func TestSQLite_UpdateJobStatus_GuardsLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)

	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusInProgress, ""))

	// Backwards moves are refused.
	err := st.UpdateJobStatus(ctx, job.ID, model.JobStatusPending, "")
	var stateErr *model.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(model.JobStatusInProgress), stateErr.State)

	// Terminal jobs never move again.
	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusCancelled, ""))
	err = st.UpdateJobStatus(ctx, job.ID, model.JobStatusFailed, "boom")
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(model.JobStatusCancelled), stateErr.State)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.Empty(t, got.Error)
}

func TestSQLite_UpdateJobStatus_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateJobStatus(context.Background(), "missing", model.JobStatusInProgress, "")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSQLite_GetJob_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSQLite_ListJobs_FilterByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	j1 := seedJob(t, st)
	seedJob(t, st)
	require.NoError(t, st.UpdateJobStatus(ctx, j1.ID, model.JobStatusInProgress, ""))

	jobs, err := st.ListJobs(ctx, JobFilter{Status: model.JobStatusInProgress})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, j1.ID, jobs[0].ID)
}

func TestSQLite_DeleteJob_CascadesStepsAndLeads(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	seedSteps(t, st, job.ID)
	seedLead(t, st, job.ID, "https://www.ubereats.com/store/taco-town")

	require.NoError(t, st.DeleteJob(ctx, job.ID))

	steps, err := st.ListSteps(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	leads, err := st.ListLeads(ctx, LeadFilter{JobID: job.ID})
	require.NoError(t, err)
	assert.Empty(t, leads)
}

// --- Steps ---

func TestSQLite_StepsOrderedAndMetadata(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	created := seedSteps(t, st, job.ID)

	steps, err := st.ListSteps(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, 1, steps[0].StepNumber)
	assert.Equal(t, model.StepTypeActionRequired, steps[2].Type)

	require.NoError(t, st.SetStepMetadata(ctx, created[0].ID, map[string]any{"pages": float64(2)}))
	got, err := st.GetStep(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, float64(2), got.Metadata["pages"])
}

func TestSQLite_UpdateStepStatus_Timestamps(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	steps := seedSteps(t, st, job.ID)

	require.NoError(t, st.UpdateStepStatus(ctx, steps[0].ID, model.StepStatusInProgress, ""))
	got, err := st.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, st.UpdateStepStatus(ctx, steps[0].ID, model.StepStatusCompleted, ""))
	got, err = st.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, got.CompletedAt)
}

// --- Leads ---

func TestSQLite_InsertLeads_SkipsDuplicateSourceURLs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)

	now := time.Now().UTC()
	mk := func(url string) model.Lead {
		return model.Lead{
			ID: uuid.New().String(), JobID: job.ID, CurrentStep: 1,
			Progression: model.ProgressionAvailable, Name: "X", SourceURL: url,
			IsValid: true, CreatedAt: now, UpdatedAt: now,
		}
	}

	n, err := st.InsertLeads(ctx, []model.Lead{
		mk("https://a"), mk("https://b"), mk("https://a"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-inserting the same URLs inserts nothing new.
	n, err = st.InsertLeads(ctx, []model.Lead{mk("https://b"), mk("https://c")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_InsertLeads_SameURLDifferentJobs(t *testing.T) {
	st := newTestSQLiteStore(t)
	j1 := seedJob(t, st)
	j2 := seedJob(t, st)

	seedLead(t, st, j1.ID, "https://shared")
	seedLead(t, st, j2.ID, "https://shared")
}

func TestSQLite_UpdateLead_PartialFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	lead := seedLead(t, st, job.ID, "https://x")

	phone := "+1 415 555 0101"
	rating := 4.5
	dup := true
	require.NoError(t, st.UpdateLead(ctx, lead.ID, model.LeadUpdate{
		Phone:  &phone,
		Rating: &rating,
	}))
	require.NoError(t, st.UpdateLead(ctx, lead.ID, model.LeadUpdate{IsDuplicate: &dup}))

	got, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, phone, got.Phone)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 4.5, *got.Rating)
	assert.True(t, got.IsDuplicate)
	// Untouched fields survive partial updates.
	assert.Equal(t, "Taco Town", got.Name)
}

func TestSQLite_UpdateLead_ValidationErrors(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	lead := seedLead(t, st, job.ID, "https://x")

	valid := false
	errs := []model.FieldError{{Field: "phone", Message: "phone is required"}}
	require.NoError(t, st.UpdateLead(ctx, lead.ID, model.LeadUpdate{
		IsValid:          &valid,
		ValidationErrors: &errs,
	}))

	got, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.False(t, got.IsValid)
	require.Len(t, got.ValidationErrors, 1)
	assert.Equal(t, "phone", got.ValidationErrors[0].Field)
}

// --- Progression ---

func TestSQLite_ClaimLeads_OnlyAvailable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	l1 := seedLead(t, st, job.ID, "https://a")
	l2 := seedLead(t, st, job.ID, "https://b")

	claimed, err := st.ClaimLeads(ctx, []string{l1.ID, l2.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{l1.ID, l2.ID}, claimed)

	// Second claim finds nothing available.
	claimed, err = st.ClaimLeads(ctx, []string{l1.ID, l2.ID})
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestSQLite_SelectEligible_FiltersStepAndProgression(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	l1 := seedLead(t, st, job.ID, "https://a")
	l2 := seedLead(t, st, job.ID, "https://b")

	_, err := st.ClaimLeads(ctx, []string{l2.ID})
	require.NoError(t, err)

	eligible, err := st.SelectEligible(ctx, job.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, l1.ID, eligible[0].ID)

	eligible, err = st.SelectEligible(ctx, job.ID, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestSQLite_BulkTransition_PerIDOutcomes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	l1 := seedLead(t, st, job.ID, "https://a") // available
	l2 := seedLead(t, st, job.ID, "https://b")

	_, err := st.ClaimLeads(ctx, []string{l2.ID}) // processing
	require.NoError(t, err)

	res, err := st.BulkTransition(ctx,
		[]string{l1.ID, l2.ID, "missing"},
		[]model.Progression{model.ProgressionProcessing, model.ProgressionProcessed},
		model.ProgressionProcessed)
	require.NoError(t, err)

	assert.Equal(t, []string{l2.ID}, res.Updated)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, l1.ID, res.Failed[0].ID)
	assert.Contains(t, res.Failed[0].Reason, "available")
	assert.Equal(t, "missing", res.Failed[1].ID)
	assert.Contains(t, res.Failed[1].Reason, "not found")
}

func TestSQLite_BulkTransition_RefusesIllegalTarget(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	l1 := seedLead(t, st, job.ID, "https://a")

	// processed -> failed is not a legal progression move.
	res, err := st.BulkTransition(ctx, []string{l1.ID},
		[]model.Progression{model.ProgressionProcessed}, model.ProgressionFailed)
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestSQLite_AdvanceLeads_OnlyPassed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	l1 := seedLead(t, st, job.ID, "https://a")
	l2 := seedLead(t, st, job.ID, "https://b")

	_, err := st.ClaimLeads(ctx, []string{l1.ID})
	require.NoError(t, err)
	_, err = st.BulkTransition(ctx, []string{l1.ID},
		[]model.Progression{model.ProgressionProcessing}, model.ProgressionPassed)
	require.NoError(t, err)

	n, err := st.AdvanceLeads(ctx, []string{l1.ID, l2.ID}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetLead(ctx, l1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStep)
	assert.Equal(t, model.ProgressionAvailable, got.Progression)

	got, err = st.GetLead(ctx, l2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep)
}

func TestSQLite_FindBySourceURL(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	l1 := seedLead(t, st, job.ID, "https://a")

	found, err := st.FindBySourceURL(ctx, job.ID, "https://a", "other-id")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, l1.ID, found.ID)

	// Excluding the lead itself finds nothing.
	found, err = st.FindBySourceURL(ctx, job.ID, "https://a", l1.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSQLite_MarkConverted_ExactlyOnce(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	lead := seedLead(t, st, job.ID, "https://a")

	ok, err := st.MarkConverted(ctx, lead.ID, "place-1", "ops@platewise.io")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second conversion is a no-op.
	ok, err = st.MarkConverted(ctx, lead.ID, "place-2", "ops@platewise.io")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "place-1", got.ConvertedTo)
	assert.NotNil(t, got.ConvertedAt)
	assert.True(t, got.Converted())
}

// --- Counters ---

func TestSQLite_IncrementCounters_Accumulates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st)
	steps := seedSteps(t, st, job.ID)

	for range 3 {
		require.NoError(t, st.IncrementCounters(ctx, job.ID, steps[0].ID, model.CounterDelta{
			JobExtracted: 5, JobPassed: 4, JobFailed: 1,
			StepReceived: 5, StepProcessed: 5, StepPassed: 4, StepFailed: 1,
		}))
	}

	gotJob, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, gotJob.Extracted)
	assert.Equal(t, 12, gotJob.Passed)
	assert.Equal(t, 3, gotJob.Failed)

	gotStep, err := st.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 15, gotStep.Received)
	assert.Equal(t, 12, gotStep.Passed)
}
