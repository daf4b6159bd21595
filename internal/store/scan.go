package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/platewise/leadscout/internal/model"
)

var errNotFound = eris.New("not found")

// IsNotFound reports whether err came from a lookup that matched no row.
func IsNotFound(err error) bool {
	return eris.Is(err, errNotFound)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []model.FieldError) []model.FieldError {
	if s == nil {
		return []model.FieldError{}
	}
	return s
}

// scannable covers both database/sql and pgx row types so the scan helpers
// serve both backends.
type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var status string
	var startedAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&j.ID, &j.Platform, &j.Locality, &j.Category, &j.Limit, &j.Offset, &j.SeedURL,
		&status, &j.CurrentStep, &j.TotalSteps, &j.Extracted, &j.Passed, &j.Failed, &j.Error,
		&j.CreatedAt, &startedAt, &completedAt, &cancelledAt,
	)
	if isNoRows(err) {
		return nil, eris.Wrap(errNotFound, "job")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan job")
	}

	j.Status = model.JobStatus(status)
	j.StartedAt = nullTimePtr(startedAt)
	j.CompletedAt = nullTimePtr(completedAt)
	j.CancelledAt = nullTimePtr(cancelledAt)
	return &j, nil
}

func scanStep(row scannable) (*model.Step, error) {
	var st model.Step
	var stepType, status, metadata string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&st.ID, &st.JobID, &st.StepNumber, &st.Name, &st.Description, &stepType, &status,
		&st.Received, &st.Processed, &st.Passed, &st.Failed, &st.Error, &metadata,
		&startedAt, &completedAt,
	)
	if isNoRows(err) {
		return nil, eris.Wrap(errNotFound, "step")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan step")
	}

	st.Type = model.StepType(stepType)
	st.Status = model.StepStatus(status)
	st.StartedAt = nullTimePtr(startedAt)
	st.CompletedAt = nullTimePtr(completedAt)
	if err := json.Unmarshal([]byte(metadata), &st.Metadata); err != nil {
		return nil, eris.Wrap(err, "unmarshal step metadata")
	}
	return &st, nil
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var progression, validationErrors string
	var rating sql.NullFloat64
	var reviewCount sql.NullInt64
	var convertedTo sql.NullString
	var convertedAt sql.NullTime

	err := row.Scan(
		&l.ID, &l.JobID, &l.CurrentStep, &progression, &l.Name, &l.SourceURL,
		&rating, &reviewCount, &l.Address, &l.Locality, &l.Phone, &l.Email, &l.Website, &l.Cuisine, &l.Tags,
		&l.IsDuplicate, &l.DuplicateOfLeadID, &l.DuplicateOfPlace,
		&l.IsValid, &validationErrors, &convertedTo, &convertedAt, &l.ConvertedBy,
		&l.Error, &l.CreatedAt, &l.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, eris.Wrap(errNotFound, "lead")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan lead")
	}

	l.Progression = model.Progression(progression)
	if rating.Valid {
		v := rating.Float64
		l.Rating = &v
	}
	if reviewCount.Valid {
		v := int(reviewCount.Int64)
		l.ReviewCount = &v
	}
	if convertedTo.Valid {
		l.ConvertedTo = convertedTo.String
	}
	l.ConvertedAt = nullTimePtr(convertedAt)
	if err := json.Unmarshal([]byte(validationErrors), &l.ValidationErrors); err != nil {
		return nil, eris.Wrap(err, "unmarshal validation errors")
	}
	if len(l.ValidationErrors) == 0 {
		l.ValidationErrors = nil
	}
	return &l, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// leadUpdateClauses builds SET clauses for the non-nil fields of a partial
// lead update. placeholder renders the parameter for a 1-based position, so
// both SQLite (?) and Postgres ($n) dialects share the builder.
func leadUpdateClauses(update model.LeadUpdate, placeholder func(i int) string) ([]string, []any, error) {
	var sets []string
	var args []any

	add := func(col string, val any) {
		sets = append(sets, col+" = "+placeholder(len(args)+1))
		args = append(args, val)
	}

	if update.CurrentStep != nil {
		add("current_step", *update.CurrentStep)
	}
	if update.Progression != nil {
		add("progression", string(*update.Progression))
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Rating != nil {
		add("rating", *update.Rating)
	}
	if update.ReviewCount != nil {
		add("review_count", *update.ReviewCount)
	}
	if update.Address != nil {
		add("address", *update.Address)
	}
	if update.Locality != nil {
		add("locality", *update.Locality)
	}
	if update.Phone != nil {
		add("phone", *update.Phone)
	}
	if update.Email != nil {
		add("email", *update.Email)
	}
	if update.Website != nil {
		add("website", *update.Website)
	}
	if update.Cuisine != nil {
		add("cuisine", *update.Cuisine)
	}
	if update.Tags != nil {
		add("tags", *update.Tags)
	}
	if update.IsDuplicate != nil {
		add("is_duplicate", *update.IsDuplicate)
	}
	if update.DuplicateOfLeadID != nil {
		add("duplicate_of_lead_id", *update.DuplicateOfLeadID)
	}
	if update.DuplicateOfPlace != nil {
		add("duplicate_of_place_id", *update.DuplicateOfPlace)
	}
	if update.IsValid != nil {
		add("is_valid", *update.IsValid)
	}
	if update.ValidationErrors != nil {
		data, err := json.Marshal(orEmptySlice(*update.ValidationErrors))
		if err != nil {
			return nil, nil, eris.Wrap(err, "marshal validation errors")
		}
		add("validation_errors", string(data))
	}
	if update.Error != nil {
		add("error", *update.Error)
	}

	return sets, args, nil
}
