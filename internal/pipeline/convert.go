package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/platewise/leadscout/internal/model"
	"github.com/platewise/leadscout/internal/store"
	"github.com/platewise/leadscout/pkg/places"
)

// ConvertFailure is one lead that could not be converted.
type ConvertFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// ConvertResult reports the per-id outcome of a conversion batch. Each id is
// independent; one failure never blocks the others.
type ConvertResult struct {
	Converted []string         `json:"converted"`
	Failed    []ConvertFailure `json:"failed,omitempty"`
}

// Converter promotes passed leads into permanent place entities. Conversion
// is one-time and irreversible: a second attempt on the same lead reports
// ConflictError and never creates a second entity.
type Converter struct {
	store  store.Store
	places places.Client
}

// NewConverter creates a Converter.
func NewConverter(st store.Store, pl places.Client) *Converter {
	return &Converter{store: st, places: pl}
}

// Convert promotes each lead independently. Refused outright: already
// converted, duplicate-flagged, invalid, or not a passed final-step lead.
func (c *Converter) Convert(ctx context.Context, leadIDs []string, convertedBy string) (*ConvertResult, error) {
	result := &ConvertResult{}
	jobs := make(map[string]*model.Job)

	for _, id := range leadIDs {
		placeID, err := c.convertOne(ctx, id, convertedBy, jobs)
		if err != nil {
			result.Failed = append(result.Failed, ConvertFailure{ID: id, Error: err.Error()})
			continue
		}
		zap.L().Info("converter: lead converted",
			zap.String("lead_id", id), zap.String("place_id", placeID))
		result.Converted = append(result.Converted, id)
	}
	return result, nil
}

func (c *Converter) convertOne(ctx context.Context, leadID, convertedBy string, jobs map[string]*model.Job) (string, error) {
	lead, err := c.store.GetLead(ctx, leadID)
	if err != nil {
		return "", eris.Wrap(err, "converter: load lead")
	}

	if lead.Converted() {
		return "", &model.ConflictError{Entity: "lead", ID: lead.ID, Message: "already converted"}
	}
	if lead.IsDuplicate {
		return "", &model.ConflictError{Entity: "lead", ID: lead.ID, Message: "duplicate lead"}
	}
	if !lead.IsValid {
		return "", &model.ConflictError{Entity: "lead", ID: lead.ID, Message: "lead failed validation"}
	}

	job, ok := jobs[lead.JobID]
	if !ok {
		job, err = c.store.GetJob(ctx, lead.JobID)
		if err != nil {
			return "", eris.Wrap(err, "converter: load job")
		}
		jobs[lead.JobID] = job
	}
	if lead.Progression != model.ProgressionPassed || lead.CurrentStep < job.TotalSteps {
		return "", &model.ConflictError{Entity: "lead", ID: lead.ID,
			Message: "lead has not passed the final step"}
	}

	placeID, err := c.places.CreatePlace(ctx, mapPlaceInput(lead))
	if err != nil {
		return "", eris.Wrap(err, "converter: create place")
	}

	stamped, err := c.store.MarkConverted(ctx, lead.ID, placeID, convertedBy)
	if err != nil {
		return "", eris.Wrap(err, "converter: stamp conversion")
	}
	if !stamped {
		// Lost a race with a concurrent conversion of the same lead. The
		// place created above stays in the directory unreferenced.
		return "", &model.ConflictError{Entity: "lead", ID: lead.ID, Message: "already converted"}
	}
	return placeID, nil
}

// mapPlaceInput maps a lead's enrichment fields to the place-creation
// contract.
func mapPlaceInput(lead *model.Lead) places.PlaceInput {
	return places.PlaceInput{
		Name:        lead.Name,
		SourceURL:   lead.SourceURL,
		Address:     lead.Address,
		Locality:    lead.Locality,
		Phone:       lead.Phone,
		Email:       lead.Email,
		Website:     lead.Website,
		Cuisine:     lead.Cuisine,
		Tags:        lead.Tags,
		Rating:      lead.Rating,
		ReviewCount: lead.ReviewCount,
	}
}
