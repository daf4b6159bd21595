//go:build !integration

package main

import (
	"strings"
	"testing"

	"github.com/jszwec/csvutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/leadscout/internal/model"
)

func TestExportRows_CSVShape(t *testing.T) {
	rating := 4.5
	reviews := 120
	leads := []model.Lead{
		{
			ID:          "lead-1",
			Name:        "Taco Town",
			SourceURL:   "https://www.ubereats.com/store/taco-town",
			Address:     "123 Mission St",
			Locality:    "San Francisco",
			Phone:       "+1 415 555 0101",
			Cuisine:     "Mexican",
			Tags:        "Tacos; Burritos",
			Rating:      &rating,
			ReviewCount: &reviews,
			CurrentStep: 3,
			Progression: model.ProgressionPassed,
			IsValid:     true,
			ConvertedTo: "place-9",
		},
		{
			ID:          "lead-2",
			Name:        "Pho Palace",
			SourceURL:   "https://www.ubereats.com/store/pho-palace",
			CurrentStep: 2,
			Progression: model.ProgressionFailed,
			Error:       "validation failed",
		},
	}

	data, err := csvutil.Marshal(exportRows(leads))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)

	assert.Equal(t,
		"id,name,source_url,address,locality,phone,email,website,cuisine,tags,rating,review_count,current_step,progression,is_valid,is_duplicate,converted_to,error",
		lines[0])

	assert.Contains(t, lines[1], "Taco Town")
	assert.Contains(t, lines[1], "4.5")
	assert.Contains(t, lines[1], "place-9")

	// Unset numeric pointers render empty, not zero.
	assert.Contains(t, lines[2], ",,2,failed")
	assert.Contains(t, lines[2], "validation failed")
}

func TestExportRows_Empty(t *testing.T) {
	data, err := csvutil.Marshal(exportRows(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(string(data)), "\n")+1)
}
