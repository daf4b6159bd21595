package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/platewise/leadscout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local and
// test backend; Postgres is used in deployment.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	platform     TEXT NOT NULL,
	locality     TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	record_limit INTEGER NOT NULL,
	page_offset  INTEGER NOT NULL DEFAULT 0,
	seed_url     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'draft',
	current_step INTEGER NOT NULL DEFAULT 0,
	total_steps  INTEGER NOT NULL DEFAULT 0,
	extracted    INTEGER NOT NULL DEFAULT 0,
	passed       INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	started_at   DATETIME,
	completed_at DATETIME,
	cancelled_at DATETIME
);

CREATE TABLE IF NOT EXISTS steps (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	step_number  INTEGER NOT NULL,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	step_type    TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	received     INTEGER NOT NULL DEFAULT 0,
	processed    INTEGER NOT NULL DEFAULT 0,
	passed       INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}',
	started_at   DATETIME,
	completed_at DATETIME,
	UNIQUE(job_id, step_number)
);

CREATE TABLE IF NOT EXISTS leads (
	id                    TEXT PRIMARY KEY,
	job_id                TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	current_step          INTEGER NOT NULL DEFAULT 1,
	progression           TEXT NOT NULL DEFAULT 'available',
	name                  TEXT NOT NULL DEFAULT '',
	source_url            TEXT NOT NULL,
	rating                REAL,
	review_count          INTEGER,
	address               TEXT NOT NULL DEFAULT '',
	locality              TEXT NOT NULL DEFAULT '',
	phone                 TEXT NOT NULL DEFAULT '',
	email                 TEXT NOT NULL DEFAULT '',
	website               TEXT NOT NULL DEFAULT '',
	cuisine               TEXT NOT NULL DEFAULT '',
	tags                  TEXT NOT NULL DEFAULT '',
	is_duplicate          INTEGER NOT NULL DEFAULT 0,
	duplicate_of_lead_id  TEXT NOT NULL DEFAULT '',
	duplicate_of_place_id TEXT NOT NULL DEFAULT '',
	is_valid              INTEGER NOT NULL DEFAULT 1,
	validation_errors     TEXT NOT NULL DEFAULT '[]',
	converted_to          TEXT,
	converted_at          DATETIME,
	converted_by          TEXT NOT NULL DEFAULT '',
	error                 TEXT NOT NULL DEFAULT '',
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL,
	UNIQUE(job_id, source_url)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_steps_job_id ON steps(job_id);
CREATE INDEX IF NOT EXISTS idx_leads_job_id ON leads(job_id);
CREATE INDEX IF NOT EXISTS idx_leads_eligible ON leads(job_id, current_step, progression);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Jobs

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, platform, locality, category, record_limit, page_offset, seed_url,
			status, current_step, total_steps, extracted, passed, failed, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Platform, job.Locality, job.Category, job.Limit, job.Offset, job.SeedURL,
		string(job.Status), job.CurrentStep, job.TotalSteps,
		job.Extracted, job.Passed, job.Failed, job.Error, job.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

const jobColumns = `id, platform, locality, category, record_limit, page_offset, seed_url,
	status, current_step, total_steps, extracted, passed, failed, error,
	created_at, started_at, completed_at, cancelled_at`

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, filter.Platform)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// UpdateJobStatus writes a job's status, refusing backwards moves and
// writes against a terminal job. Same-status writes are allowed so error
// text can be refreshed.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error {
	allowed := append(model.JobTransitionSources(status), status)
	placeholders := make([]string, len(allowed))
	guard := make([]any, len(allowed))
	for i, src := range allowed {
		placeholders[i] = "?"
		guard[i] = string(src)
	}

	now := time.Now().UTC()
	args := []any{
		string(status), errMsg,
		string(status), now,
		string(status), now,
		string(status), now,
		jobID,
	}
	args = append(args, guard...)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?,
			started_at   = CASE WHEN ? = 'in_progress' AND started_at IS NULL THEN ? ELSE started_at END,
			completed_at = CASE WHEN ? IN ('completed', 'failed') THEN ? ELSE completed_at END,
			cancelled_at = CASE WHEN ? = 'cancelled' THEN ? ELSE cancelled_at END
		 WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: update job status rows affected")
	}
	if n == 1 {
		return nil
	}

	// Distinguish a missing job from an illegal transition.
	var current string
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&current)
	if err == sql.ErrNoRows {
		return eris.Wrapf(errNotFound, "job %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load job status %s", jobID)
	}
	return &model.InvalidStateError{
		Entity: "job", ID: jobID, State: current, Op: "move to " + string(status)}
}

func (s *SQLiteStore) SetJobCurrentStep(ctx context.Context, jobID string, currentStep int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET current_step = ? WHERE id = ?`, currentStep, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job current step %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	// Steps and leads cascade via foreign keys.
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

// Steps

func (s *SQLiteStore) CreateSteps(ctx context.Context, steps []model.Step) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create steps")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, st := range steps {
		metadata, err := json.Marshal(orEmptyMap(st.Metadata))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal step metadata")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO steps (id, job_id, step_number, name, description, step_type, status,
				received, processed, passed, failed, error, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, st.JobID, st.StepNumber, st.Name, st.Description, string(st.Type), string(st.Status),
			st.Received, st.Processed, st.Passed, st.Failed, st.Error, string(metadata),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert step %d for job %s", st.StepNumber, st.JobID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit create steps")
}

const stepColumns = `id, job_id, step_number, name, description, step_type, status,
	received, processed, passed, failed, error, metadata, started_at, completed_at`

func (s *SQLiteStore) GetStep(ctx context.Context, stepID string) (*model.Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE id = ?`, stepID)
	return scanStep(row)
}

func (s *SQLiteStore) ListSteps(ctx context.Context, jobID string) ([]model.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE job_id = ? ORDER BY step_number`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list steps")
	}
	defer rows.Close()

	var steps []model.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *st)
	}
	return steps, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

func (s *SQLiteStore) UpdateStepStatus(ctx context.Context, stepID string, status model.StepStatus, errMsg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET status = ?, error = ?,
			started_at   = CASE WHEN ? = 'in_progress' AND started_at IS NULL THEN ? ELSE started_at END,
			completed_at = CASE WHEN ? IN ('completed', 'failed') THEN ? ELSE completed_at END
		 WHERE id = ?`,
		string(status), errMsg,
		string(status), now,
		string(status), now,
		stepID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update step status %s", stepID)
	}
	return checkRowsAffected(res, "step", stepID)
}

func (s *SQLiteStore) SetStepMetadata(ctx context.Context, stepID string, metadata map[string]any) error {
	data, err := json.Marshal(orEmptyMap(metadata))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal step metadata")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET metadata = ? WHERE id = ?`, string(data), stepID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set step metadata %s", stepID)
	}
	return checkRowsAffected(res, "step", stepID)
}

// Leads

// InsertLeads inserts leads, silently skipping rows that collide on the
// store's uniqueness constraint (job_id, source_url). Returns the number of
// rows actually inserted.
func (s *SQLiteStore) InsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert leads")
	}
	defer tx.Rollback() //nolint:errcheck

	inserted := 0
	for _, l := range leads {
		valErrs, err := json.Marshal(orEmptySlice(l.ValidationErrors))
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal validation errors")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO leads (id, job_id, current_step, progression, name, source_url,
				rating, review_count, address, locality, phone, email, website, cuisine, tags,
				is_duplicate, duplicate_of_lead_id, duplicate_of_place_id,
				is_valid, validation_errors, error, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (job_id, source_url) DO NOTHING`,
			l.ID, l.JobID, l.CurrentStep, string(l.Progression), l.Name, l.SourceURL,
			l.Rating, l.ReviewCount, l.Address, l.Locality, l.Phone, l.Email, l.Website, l.Cuisine, l.Tags,
			l.IsDuplicate, l.DuplicateOfLeadID, l.DuplicateOfPlace,
			l.IsValid, string(valErrs), l.Error, l.CreatedAt, l.UpdatedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert lead %s", l.SourceURL)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert lead rows affected")
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert leads")
	}
	return inserted, nil
}

const leadColumns = `id, job_id, current_step, progression, name, source_url,
	rating, review_count, address, locality, phone, email, website, cuisine, tags,
	is_duplicate, duplicate_of_lead_id, duplicate_of_place_id,
	is_valid, validation_errors, converted_to, converted_at, converted_by,
	error, created_at, updated_at`

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, leadID)
	return scanLead(row)
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	if filter.CurrentStep > 0 {
		query += ` AND current_step = ?`
		args = append(args, filter.CurrentStep)
	}
	if filter.Progression != "" {
		query += ` AND progression = ?`
		args = append(args, string(filter.Progression))
	}
	query += ` ORDER BY created_at, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, leadID string, update model.LeadUpdate) error {
	sets, args, err := leadUpdateClauses(update, func(int) string { return "?" })
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), leadID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", leadID)
	}
	return checkRowsAffected(res, "lead", leadID)
}

func (s *SQLiteStore) DeleteLead(ctx context.Context, leadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id = ?`, leadID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete lead %s", leadID)
	}
	return checkRowsAffected(res, "lead", leadID)
}

// Pipeline progression

func (s *SQLiteStore) SelectEligible(ctx context.Context, jobID string, stepNumber, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE job_id = ? AND current_step = ? AND progression = 'available'
		 ORDER BY created_at, id LIMIT ?`,
		jobID, stepNumber, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select eligible")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: select eligible iterate")
}

// ClaimLeads moves available leads to processing and returns the ids it
// actually claimed, preventing double-processing across concurrent batches.
func (s *SQLiteStore) ClaimLeads(ctx context.Context, leadIDs []string) ([]string, error) {
	now := time.Now().UTC()
	var claimed []string
	for _, id := range leadIDs {
		res, err := s.db.ExecContext(ctx,
			`UPDATE leads SET progression = 'processing', updated_at = ?
			 WHERE id = ? AND progression = 'available'`, now, id)
		if err != nil {
			return claimed, eris.Wrapf(err, "sqlite: claim lead %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, eris.Wrap(err, "sqlite: claim rows affected")
		}
		if n == 1 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

func (s *SQLiteStore) BulkTransition(ctx context.Context, leadIDs []string, from []model.Progression, to model.Progression) (*BulkResult, error) {
	if len(from) == 0 {
		return nil, eris.New("sqlite: bulk transition requires source statuses")
	}
	for _, f := range from {
		if f != to && !f.CanTransition(to) {
			return nil, eris.Errorf("sqlite: progression %s cannot move to %s", f, to)
		}
	}

	placeholders := make([]string, len(from))
	baseArgs := make([]any, 0, len(from)+2)
	for i, f := range from {
		placeholders[i] = "?"
		baseArgs = append(baseArgs, string(f))
	}

	now := time.Now().UTC()
	result := &BulkResult{}
	for _, id := range leadIDs {
		args := append([]any{string(to), now, id}, baseArgs...)
		res, err := s.db.ExecContext(ctx,
			`UPDATE leads SET progression = ?, updated_at = ?
			 WHERE id = ? AND progression IN (`+strings.Join(placeholders, ", ")+`)`, args...)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: transition lead %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: transition rows affected")
		}
		if n == 1 {
			result.Updated = append(result.Updated, id)
			continue
		}
		result.Failed = append(result.Failed, TransitionFailure{
			ID:     id,
			Reason: s.transitionFailureReason(ctx, id),
		})
	}
	return result, nil
}

func (s *SQLiteStore) transitionFailureReason(ctx context.Context, leadID string) string {
	var progression string
	err := s.db.QueryRowContext(ctx,
		`SELECT progression FROM leads WHERE id = ?`, leadID).Scan(&progression)
	if err == sql.ErrNoRows {
		return "lead not found"
	}
	if err != nil {
		return "lookup failed"
	}
	return fmt.Sprintf("progression is %q", progression)
}

func (s *SQLiteStore) AdvanceLeads(ctx context.Context, leadIDs []string, nextStep int) (int, error) {
	if len(leadIDs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	advanced := 0
	for _, id := range leadIDs {
		res, err := s.db.ExecContext(ctx,
			`UPDATE leads SET current_step = ?, progression = 'available', updated_at = ?
			 WHERE id = ? AND progression = 'passed'`, nextStep, now, id)
		if err != nil {
			return advanced, eris.Wrapf(err, "sqlite: advance lead %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return advanced, eris.Wrap(err, "sqlite: advance rows affected")
		}
		advanced += int(n)
	}
	return advanced, nil
}

func (s *SQLiteStore) FindBySourceURL(ctx context.Context, jobID, sourceURL, excludeLeadID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE job_id = ? AND source_url = ? AND id != ? LIMIT 1`,
		jobID, sourceURL, excludeLeadID)
	l, err := scanLead(row)
	if err != nil {
		if eris.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

// MarkConverted stamps the conversion linkage exactly once. Returns false if
// the lead was already converted (or does not exist).
func (s *SQLiteStore) MarkConverted(ctx context.Context, leadID, placeID, convertedBy string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET converted_to = ?, converted_at = ?, converted_by = ?, updated_at = ?
		 WHERE id = ? AND converted_to IS NULL`,
		placeID, now, convertedBy, now, leadID)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark converted %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: mark converted rows affected")
	}
	return n == 1, nil
}

// Counters

func (s *SQLiteStore) IncrementCounters(ctx context.Context, jobID, stepID string, delta model.CounterDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin increment counters")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET extracted = extracted + ?, passed = passed + ?, failed = failed + ?
		 WHERE id = ?`,
		delta.JobExtracted, delta.JobPassed, delta.JobFailed, jobID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: increment job counters %s", jobID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE steps SET received = received + ?, processed = processed + ?,
			passed = passed + ?, failed = failed + ?
		 WHERE id = ?`,
		delta.StepReceived, delta.StepProcessed, delta.StepPassed, delta.StepFailed, stepID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: increment step counters %s", stepID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit increment counters")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(errNotFound, "%s %s", entity, id)
	}
	return nil
}
