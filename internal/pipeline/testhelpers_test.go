package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platewise/leadscout/internal/extract"
	"github.com/platewise/leadscout/internal/model"
	"github.com/platewise/leadscout/internal/resilience"
	"github.com/platewise/leadscout/internal/store"
	"github.com/platewise/leadscout/pkg/extractor"
	"github.com/platewise/leadscout/pkg/places"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// fakeExtractor scripts extraction responses by schema and URL.
type fakeExtractor struct {
	mu    sync.Mutex
	calls []extractor.ExtractRequest
	fn    func(req extractor.ExtractRequest) (*extractor.ExtractResponse, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, req extractor.ExtractRequest) (*extractor.ExtractResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestLimited(client extractor.Client, concurrency int) *extract.Limited {
	return extract.New(client, extract.Config{
		Concurrency:   concurrency,
		RatePerMinute: 600000,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2,
		},
	})
}

// fakePlaces scripts the permanent entity store.
type fakePlaces struct {
	mu      sync.Mutex
	created []places.PlaceInput
	existed []places.Place
	fail    error
}

func (f *fakePlaces) CreatePlace(ctx context.Context, input places.PlaceInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.created = append(f.created, input)
	return fmt.Sprintf("place-%d", len(f.created)), nil
}

func (f *fakePlaces) SearchByLocality(ctx context.Context, locality string) ([]places.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []places.Place
	for _, p := range f.existed {
		if p.Locality == locality {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePlaces) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// listingURL fabricates a stable store URL for test listings.
func listingURL(n int) string {
	return fmt.Sprintf("https://www.ubereats.com/store/test-%d", n)
}

func makeListings(n int) []extractor.Listing {
	out := make([]extractor.Listing, n)
	for i := range out {
		rating := 4.2
		out[i] = extractor.Listing{
			Name:   fmt.Sprintf("Restaurant %d", i+1),
			URL:    listingURL(i + 1),
			Rating: &rating,
		}
	}
	return out
}

// seedStartedJob creates a job with materialized steps in in_progress at
// step 1, bypassing the orchestrator, for processor-level tests.
func seedStartedJob(t *testing.T, st store.Store, limit int) (*model.Job, []model.Step) {
	t.Helper()
	ctx := context.Background()

	template, err := PlatformTemplate("ubereats")
	require.NoError(t, err)

	job := &model.Job{
		ID:         "job-" + t.Name(),
		Platform:   "ubereats",
		Locality:   "San Francisco",
		Category:   "mexican",
		Limit:      limit,
		SeedURL:    template.RenderSeedURL("San Francisco", "mexican"),
		Status:     model.JobStatusDraft,
		TotalSteps: len(template.Stages),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.CreateJob(ctx, job))

	steps := make([]model.Step, len(template.Stages))
	for i, stage := range template.Stages {
		steps[i] = model.Step{
			ID:         fmt.Sprintf("%s-step-%d", job.ID, stage.Number),
			JobID:      job.ID,
			StepNumber: stage.Number,
			Name:       stage.Name,
			Type:       stage.Type,
			Status:     model.StepStatusPending,
		}
	}
	require.NoError(t, st.CreateSteps(ctx, steps))
	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusPending, ""))
	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusInProgress, ""))
	require.NoError(t, st.SetJobCurrentStep(ctx, job.ID, 1))
	job.Status = model.JobStatusInProgress
	job.CurrentStep = 1
	return job, steps
}

// seedLeadsAtStep inserts n leads directly at the given step, available.
func seedLeadsAtStep(t *testing.T, st store.Store, jobID string, stepNumber, n int) []model.Lead {
	t.Helper()
	now := time.Now().UTC()
	leads := make([]model.Lead, n)
	for i := range leads {
		leads[i] = model.Lead{
			ID:          fmt.Sprintf("%s-lead-%d-%d", jobID, stepNumber, i+1),
			JobID:       jobID,
			CurrentStep: stepNumber,
			Progression: model.ProgressionAvailable,
			Name:        fmt.Sprintf("Restaurant %d", i+1),
			SourceURL:   fmt.Sprintf("https://www.ubereats.com/store/step%d-test-%d", stepNumber, i+1),
			Locality:    "San Francisco",
			IsValid:     true,
			CreatedAt:   now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:   now,
		}
	}
	inserted, err := st.InsertLeads(context.Background(), leads)
	require.NoError(t, err)
	require.Equal(t, n, inserted)
	return leads
}

// detailFields is a well-formed stage-2 extraction result.
func detailFields() map[string]string {
	return map[string]string{
		"address": "123 Mission St",
		"cuisine": "Mexican",
		"tags":    "Tacos; Burritos",
		"rating":  "4.5",
	}
}

// contactFields is a well-formed stage-3 extraction result.
func contactFields() map[string]string {
	return map[string]string{
		"phone":   "+1 415 555 0101",
		"email":   "hello@tacotown.com",
		"website": "https://tacotown.com",
	}
}
