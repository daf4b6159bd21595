package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/leadscout/internal/model"
	"github.com/platewise/leadscout/pkg/places"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Taco Town", "taco town"},
		{"Taco Town, LLC", "taco town"},
		{"TACO TOWN INC", "taco town"},
		{"Café München", "cafe munchen"},
		{"Joe's  Pizza & Pasta", "joes pizza pasta"},
		{"LLC", "llc"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "input %q", tt.in)
	}
}

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, NameSimilarity("taco town", "taco town"))
	assert.Equal(t, 0.0, NameSimilarity("", "taco town"))
	assert.Equal(t, 0.0, NameSimilarity("taco town", ""))

	assert.GreaterOrEqual(t, NameSimilarity("taco town", "taco townn"), DefaultDedupeThreshold)
	assert.Less(t, NameSimilarity("taco town", "burger barn"), DefaultDedupeThreshold)
}

func TestDeduper_ExactSourceURLMatch(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, _ := seedStartedJob(t, st, 10)
	existing := seedLeadsAtStep(t, st, job.ID, 2, 1)

	d := NewDeduper(st, nil, 0)

	dup, err := d.Check(ctx, &model.Lead{
		ID:        "other-lead",
		JobID:     job.ID,
		Name:      "Taco Town",
		SourceURL: existing[0].SourceURL,
	})
	require.NoError(t, err)
	assert.True(t, dup.IsDuplicate)
	assert.Equal(t, existing[0].ID, dup.OfLeadID)
	assert.Empty(t, dup.OfPlaceID)
}

func TestDeduper_ExcludesSelf(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, _ := seedStartedJob(t, st, 10)
	existing := seedLeadsAtStep(t, st, job.ID, 2, 1)

	d := NewDeduper(st, nil, 0)

	dup, err := d.Check(ctx, &existing[0])
	require.NoError(t, err)
	assert.False(t, dup.IsDuplicate)
}

func TestDeduper_FuzzyPlaceMatch(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, _ := seedStartedJob(t, st, 10)

	pl := &fakePlaces{existed: []places.Place{
		{ID: "place-77", Name: "Taco Town LLC", Locality: "San Francisco"},
		{ID: "place-78", Name: "Burger Barn", Locality: "San Francisco"},
		{ID: "place-79", Name: "Taco Town", Locality: "Oakland"},
	}}
	d := NewDeduper(st, pl, 0)

	dup, err := d.Check(ctx, &model.Lead{
		ID:        "lead-x",
		JobID:     job.ID,
		Name:      "Taco Town",
		Locality:  "San Francisco",
		SourceURL: "https://www.ubereats.com/store/taco-town",
	})
	require.NoError(t, err)
	assert.True(t, dup.IsDuplicate)
	assert.Equal(t, "place-77", dup.OfPlaceID)
	assert.Empty(t, dup.OfLeadID)

	// Candidates come from the lead's locality only; a dissimilar name in
	// the same locality is not a duplicate.
	dup, err = d.Check(ctx, &model.Lead{
		ID:        "lead-y",
		JobID:     job.ID,
		Name:      "Pho Palace",
		Locality:  "San Francisco",
		SourceURL: "https://www.ubereats.com/store/pho-palace",
	})
	require.NoError(t, err)
	assert.False(t, dup.IsDuplicate)
}

func TestDeduper_NilPlacesDisablesFuzzy(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	job, _ := seedStartedJob(t, st, 10)

	d := NewDeduper(st, nil, 0)

	dup, err := d.Check(ctx, &model.Lead{
		ID:        "lead-x",
		JobID:     job.ID,
		Name:      "Taco Town",
		Locality:  "San Francisco",
		SourceURL: "https://www.ubereats.com/store/taco-town",
	})
	require.NoError(t, err)
	assert.False(t, dup.IsDuplicate)
}
