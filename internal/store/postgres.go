package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/platewise/leadscout/internal/db"
	"github.com/platewise/leadscout/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"claim_leads": `UPDATE leads SET progression = 'processing', updated_at = now()
		WHERE id = ANY($1) AND progression = 'available' RETURNING id`,
	"advance_leads": `UPDATE leads SET current_step = $2, progression = 'available', updated_at = now()
		WHERE id = ANY($1) AND progression = 'passed'`,
	"increment_job_counters": `UPDATE jobs SET extracted = extracted + $1, passed = passed + $2, failed = failed + $3
		WHERE id = $4`,
	"increment_step_counters": `UPDATE steps SET received = received + $1, processed = processed + $2,
		passed = passed + $3, failed = failed + $4 WHERE id = $5`,
	"select_eligible": `SELECT ` + leadColumns + ` FROM leads
		WHERE job_id = $1 AND current_step = $2 AND progression = 'available'
		ORDER BY created_at, id LIMIT $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use it with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
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
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ
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
	metadata     JSONB NOT NULL DEFAULT '{}',
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	UNIQUE(job_id, step_number)
);

CREATE TABLE IF NOT EXISTS leads (
	id                    TEXT PRIMARY KEY,
	job_id                TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	current_step          INTEGER NOT NULL DEFAULT 1,
	progression           TEXT NOT NULL DEFAULT 'available',
	name                  TEXT NOT NULL DEFAULT '',
	source_url            TEXT NOT NULL,
	rating                DOUBLE PRECISION,
	review_count          INTEGER,
	address               TEXT NOT NULL DEFAULT '',
	locality              TEXT NOT NULL DEFAULT '',
	phone                 TEXT NOT NULL DEFAULT '',
	email                 TEXT NOT NULL DEFAULT '',
	website               TEXT NOT NULL DEFAULT '',
	cuisine               TEXT NOT NULL DEFAULT '',
	tags                  TEXT NOT NULL DEFAULT '',
	is_duplicate          BOOLEAN NOT NULL DEFAULT FALSE,
	duplicate_of_lead_id  TEXT NOT NULL DEFAULT '',
	duplicate_of_place_id TEXT NOT NULL DEFAULT '',
	is_valid              BOOLEAN NOT NULL DEFAULT TRUE,
	validation_errors     JSONB NOT NULL DEFAULT '[]',
	converted_to          TEXT,
	converted_at          TIMESTAMPTZ,
	converted_by          TEXT NOT NULL DEFAULT '',
	error                 TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(job_id, source_url)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_steps_job_id ON steps(job_id);
CREATE INDEX IF NOT EXISTS idx_leads_job_id ON leads(job_id);
CREATE INDEX IF NOT EXISTS idx_leads_eligible ON leads(job_id, current_step, progression);
CREATE INDEX IF NOT EXISTS idx_leads_converted ON leads(converted_to) WHERE converted_to IS NOT NULL;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Jobs

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, platform, locality, category, record_limit, page_offset, seed_url,
			status, current_step, total_steps, extracted, passed, failed, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.Platform, job.Locality, job.Category, job.Limit, job.Offset, job.SeedURL,
		string(job.Status), job.CurrentStep, job.TotalSteps,
		job.Extracted, job.Passed, job.Failed, job.Error, job.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.Platform != "" {
		args = append(args, filter.Platform)
		query += fmt.Sprintf(` AND platform = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
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
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// UpdateJobStatus writes a job's status, refusing backwards moves and
// writes against a terminal job. Same-status writes are allowed so error
// text can be refreshed.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error {
	sources := append(model.JobTransitionSources(status), status)
	allowed := make([]string, len(sources))
	for i, src := range sources {
		allowed[i] = string(src)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error = $2,
			started_at   = CASE WHEN $1 = 'in_progress' AND started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('completed', 'failed') THEN now() ELSE completed_at END,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN now() ELSE cancelled_at END
		 WHERE id = $3 AND status = ANY($4)`,
		string(status), errMsg, jobID, allowed,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing job from an illegal transition.
	var current string
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&current)
	if eris.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(errNotFound, "job %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: load job status %s", jobID)
	}
	return &model.InvalidStateError{
		Entity: "job", ID: jobID, State: current, Op: "move to " + string(status)}
}

func (s *PostgresStore) SetJobCurrentStep(ctx context.Context, jobID string, currentStep int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET current_step = $1 WHERE id = $2`, currentStep, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job current step %s", jobID)
	}
	return pgCheckRows(tag, "job", jobID)
}

func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) error {
	// Steps and leads cascade via foreign keys.
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete job %s", jobID)
	}
	return pgCheckRows(tag, "job", jobID)
}

// Steps

func (s *PostgresStore) CreateSteps(ctx context.Context, steps []model.Step) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create steps")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, st := range steps {
		metadata, err := json.Marshal(orEmptyMap(st.Metadata))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal step metadata")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO steps (id, job_id, step_number, name, description, step_type, status,
				received, processed, passed, failed, error, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			st.ID, st.JobID, st.StepNumber, st.Name, st.Description, string(st.Type), string(st.Status),
			st.Received, st.Processed, st.Passed, st.Failed, st.Error, metadata,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert step %d for job %s", st.StepNumber, st.JobID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit create steps")
}

func (s *PostgresStore) GetStep(ctx context.Context, stepID string) (*model.Step, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE id = $1`, stepID)
	return scanStep(row)
}

func (s *PostgresStore) ListSteps(ctx context.Context, jobID string) ([]model.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE job_id = $1 ORDER BY step_number`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list steps")
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
	return steps, eris.Wrap(rows.Err(), "postgres: list steps iterate")
}

func (s *PostgresStore) UpdateStepStatus(ctx context.Context, stepID string, status model.StepStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE steps SET status = $1, error = $2,
			started_at   = CASE WHEN $1 = 'in_progress' AND started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('completed', 'failed') THEN now() ELSE completed_at END
		 WHERE id = $3`,
		string(status), errMsg, stepID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update step status %s", stepID)
	}
	return pgCheckRows(tag, "step", stepID)
}

func (s *PostgresStore) SetStepMetadata(ctx context.Context, stepID string, metadata map[string]any) error {
	data, err := json.Marshal(orEmptyMap(metadata))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal step metadata")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE steps SET metadata = $1 WHERE id = $2`, data, stepID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set step metadata %s", stepID)
	}
	return pgCheckRows(tag, "step", stepID)
}

// Leads

var leadInsertColumns = []string{
	"id", "job_id", "current_step", "progression", "name", "source_url",
	"rating", "review_count", "address", "locality", "phone", "email", "website", "cuisine", "tags",
	"is_duplicate", "duplicate_of_lead_id", "duplicate_of_place_id",
	"is_valid", "validation_errors", "error", "created_at", "updated_at",
}

// InsertLeads bulk-inserts leads, skipping rows that collide on
// (job_id, source_url). Returns the number of rows actually inserted.
func (s *PostgresStore) InsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(leads))
	for _, l := range leads {
		valErrs, err := json.Marshal(orEmptySlice(l.ValidationErrors))
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal validation errors")
		}
		rows = append(rows, []any{
			l.ID, l.JobID, l.CurrentStep, string(l.Progression), l.Name, l.SourceURL,
			l.Rating, l.ReviewCount, l.Address, l.Locality, l.Phone, l.Email, l.Website, l.Cuisine, l.Tags,
			l.IsDuplicate, l.DuplicateOfLeadID, l.DuplicateOfPlace,
			l.IsValid, valErrs, l.Error, l.CreatedAt, l.UpdatedAt,
		})
	}

	n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertIgnoreConfig{
		Table:        "leads",
		Columns:      leadInsertColumns,
		ConflictKeys: []string{"job_id", "source_url"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert leads")
	}
	return int(n), nil
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, leadID)
	return scanLead(row)
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.JobID != "" {
		args = append(args, filter.JobID)
		query += fmt.Sprintf(` AND job_id = $%d`, len(args))
	}
	if filter.CurrentStep > 0 {
		args = append(args, filter.CurrentStep)
		query += fmt.Sprintf(` AND current_step = $%d`, len(args))
	}
	if filter.Progression != "" {
		args = append(args, string(filter.Progression))
		query += fmt.Sprintf(` AND progression = $%d`, len(args))
	}
	query += ` ORDER BY created_at, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
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
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) UpdateLead(ctx context.Context, leadID string, update model.LeadUpdate) error {
	sets, args, err := leadUpdateClauses(update, func(i int) string { return fmt.Sprintf("$%d", i) })
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, leadID)

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET `+strings.Join(sets, ", ")+fmt.Sprintf(` WHERE id = $%d`, len(args)), args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", leadID)
	}
	return pgCheckRows(tag, "lead", leadID)
}

func (s *PostgresStore) DeleteLead(ctx context.Context, leadID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, leadID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete lead %s", leadID)
	}
	return pgCheckRows(tag, "lead", leadID)
}

// Pipeline progression

func (s *PostgresStore) SelectEligible(ctx context.Context, jobID string, stepNumber, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE job_id = $1 AND current_step = $2 AND progression = 'available'
		 ORDER BY created_at, id LIMIT $3`,
		jobID, stepNumber, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select eligible")
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
	return leads, eris.Wrap(rows.Err(), "postgres: select eligible iterate")
}

// ClaimLeads moves available leads to processing and returns the ids it
// actually claimed, preventing double-processing across concurrent batches.
func (s *PostgresStore) ClaimLeads(ctx context.Context, leadIDs []string) ([]string, error) {
	if len(leadIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE leads SET progression = 'processing', updated_at = now()
		 WHERE id = ANY($1) AND progression = 'available' RETURNING id`, leadIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim leads")
	}
	defer rows.Close()

	var claimed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan claimed id")
		}
		claimed = append(claimed, id)
	}
	return claimed, eris.Wrap(rows.Err(), "postgres: claim leads iterate")
}

func (s *PostgresStore) BulkTransition(ctx context.Context, leadIDs []string, from []model.Progression, to model.Progression) (*BulkResult, error) {
	if len(from) == 0 {
		return nil, eris.New("postgres: bulk transition requires source statuses")
	}
	for _, f := range from {
		if f != to && !f.CanTransition(to) {
			return nil, eris.Errorf("postgres: progression %s cannot move to %s", f, to)
		}
	}
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}

	rows, err := s.pool.Query(ctx,
		`UPDATE leads SET progression = $1, updated_at = now()
		 WHERE id = ANY($2) AND progression = ANY($3) RETURNING id`,
		string(to), leadIDs, fromStrs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: bulk transition")
	}

	updated := make(map[string]bool, len(leadIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan transitioned id")
		}
		updated[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: bulk transition iterate")
	}

	result := &BulkResult{}
	var missed []string
	for _, id := range leadIDs {
		if updated[id] {
			result.Updated = append(result.Updated, id)
		} else {
			missed = append(missed, id)
		}
	}
	if len(missed) == 0 {
		return result, nil
	}

	// Look up the current progression of each miss for the failure reason.
	states := make(map[string]string, len(missed))
	stateRows, err := s.pool.Query(ctx,
		`SELECT id, progression FROM leads WHERE id = ANY($1)`, missed)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: transition failure lookup")
	}
	defer stateRows.Close()
	for stateRows.Next() {
		var id, progression string
		if err := stateRows.Scan(&id, &progression); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transition state")
		}
		states[id] = progression
	}
	if err := stateRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: transition failure iterate")
	}

	for _, id := range missed {
		reason := "lead not found"
		if p, ok := states[id]; ok {
			reason = fmt.Sprintf("progression is %q", p)
		}
		result.Failed = append(result.Failed, TransitionFailure{ID: id, Reason: reason})
	}
	return result, nil
}

func (s *PostgresStore) AdvanceLeads(ctx context.Context, leadIDs []string, nextStep int) (int, error) {
	if len(leadIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET current_step = $2, progression = 'available', updated_at = now()
		 WHERE id = ANY($1) AND progression = 'passed'`, leadIDs, nextStep)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: advance leads")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) FindBySourceURL(ctx context.Context, jobID, sourceURL, excludeLeadID string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE job_id = $1 AND source_url = $2 AND id != $3 LIMIT 1`,
		jobID, sourceURL, excludeLeadID)
	l, err := scanLead(row)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

// MarkConverted stamps the conversion linkage exactly once. Returns false if
// the lead was already converted (or does not exist).
func (s *PostgresStore) MarkConverted(ctx context.Context, leadID, placeID, convertedBy string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET converted_to = $1, converted_at = now(), converted_by = $2, updated_at = now()
		 WHERE id = $3 AND converted_to IS NULL`,
		placeID, convertedBy, leadID)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark converted %s", leadID)
	}
	return tag.RowsAffected() == 1, nil
}

// Counters

func (s *PostgresStore) IncrementCounters(ctx context.Context, jobID, stepID string, delta model.CounterDelta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin increment counters")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET extracted = extracted + $1, passed = passed + $2, failed = failed + $3
		 WHERE id = $4`,
		delta.JobExtracted, delta.JobPassed, delta.JobFailed, jobID,
	); err != nil {
		return eris.Wrapf(err, "postgres: increment job counters %s", jobID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE steps SET received = received + $1, processed = processed + $2,
			passed = passed + $3, failed = failed + $4
		 WHERE id = $5`,
		delta.StepReceived, delta.StepProcessed, delta.StepPassed, delta.StepFailed, stepID,
	); err != nil {
		return eris.Wrapf(err, "postgres: increment step counters %s", stepID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit increment counters")
}

func pgCheckRows(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(errNotFound, "%s %s", entity, id)
	}
	return nil
}
