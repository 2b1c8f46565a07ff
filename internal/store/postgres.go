package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/startino/reletino/internal/db"
	"github.com/startino/reletino/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS evaluated_submissions (
	id                  TEXT PRIMARY KEY,
	source_id           TEXT NOT NULL UNIQUE,
	title               TEXT NOT NULL UNIQUE,
	body                TEXT NOT NULL DEFAULT '',
	url                 TEXT NOT NULL DEFAULT '',
	author              TEXT NOT NULL DEFAULT '',
	community           TEXT NOT NULL DEFAULT '',
	score               INTEGER NOT NULL DEFAULT 0,
	is_relevant         BOOLEAN NOT NULL,
	reason              TEXT NOT NULL,
	alignment_score     DOUBLE PRECISION,
	qualifying_question TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	submission_id     TEXT NOT NULL REFERENCES evaluated_submissions(id),
	source_id         TEXT NOT NULL UNIQUE,
	prospect_username TEXT NOT NULL,
	source            TEXT NOT NULL,
	status            TEXT NOT NULL,
	last_event        TEXT NOT NULL,
	data              JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS labeled_dataset (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL,
	human_answer BOOLEAN NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prompt (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	prompt     TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	summary    JSONB,
	error      TEXT,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_submissions_is_relevant ON evaluated_submissions(is_relevant);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	// Seed the prompt singleton so the classifier always has something to read.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompt (id, prompt) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`,
		model.DefaultClassificationPrompt,
	)
	return eris.Wrap(err, "postgres: seed prompt")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ExistingSubmissionKeys(ctx context.Context, sourceIDs []string) ([]SubmissionKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, title FROM evaluated_submissions WHERE source_id = ANY($1)`,
		sourceIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query existing submissions")
	}
	defer rows.Close()

	var keys []SubmissionKey
	for rows.Next() {
		var k SubmissionKey
		if err := rows.Scan(&k.SourceID, &k.Title); err != nil {
			return nil, eris.Wrap(err, "postgres: scan submission key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate submission keys")
	}
	return keys, nil
}

const insertSubmissionSQL = `INSERT INTO evaluated_submissions
	(id, source_id, title, body, url, author, community, score, is_relevant, reason, alignment_score, qualifying_question, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT DO NOTHING
	RETURNING id, source_id, title, body, url, author, community, is_relevant, reason, created_at`

// SaveSubmissions upserts evaluated posts and returns only the rows that were
// genuinely new. Conflicts on either source_id or title are silently skipped,
// which is what makes re-running ingestion on overlapping data safe.
func (s *PostgresStore) SaveSubmissions(ctx context.Context, subs []model.EvaluatedSubmission) ([]model.StoredSubmission, error) {
	var saved []model.StoredSubmission
	for _, sub := range subs {
		var row model.StoredSubmission
		err := s.pool.QueryRow(ctx, insertSubmissionSQL,
			uuid.New().String(),
			sub.Post.SourceID,
			sub.Post.Title,
			sub.Post.Body,
			sub.Post.URL,
			sub.Post.Author,
			sub.Post.Community,
			sub.Post.Score,
			sub.IsRelevant,
			sub.Reason,
			sub.AlignmentScore,
			sub.QualifyingQuestion,
			time.Now().UTC(),
		).Scan(
			&row.ID, &row.SourceID, &row.Title, &row.Body, &row.URL,
			&row.Author, &row.Community, &row.IsRelevant, &row.Reason, &row.CreatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // already stored
		}
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: insert submission %s", sub.Post.SourceID)
		}
		saved = append(saved, row)
	}
	return saved, nil
}

const insertLeadSQL = `INSERT INTO leads
	(id, submission_id, source_id, prospect_username, source, status, last_event, data, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (source_id) DO NOTHING`

func (s *PostgresStore) SaveLeads(ctx context.Context, leads []model.Lead) (int, error) {
	inserted := 0
	for _, lead := range leads {
		data, err := json.Marshal(lead.Data)
		if err != nil {
			return inserted, eris.Wrap(err, "postgres: marshal lead snapshot")
		}
		now := time.Now().UTC()
		tag, err := s.pool.Exec(ctx, insertLeadSQL,
			uuid.New().String(),
			lead.SubmissionID,
			lead.SourceID,
			lead.ProspectUsername,
			lead.Source,
			string(lead.Status),
			lead.LastEvent,
			data,
			now,
			now,
		)
		if err != nil {
			return inserted, eris.Wrapf(err, "postgres: insert lead %s", lead.SourceID)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

const selectLeadSQL = `SELECT id, submission_id, source_id, prospect_username, source, status, last_event, data, created_at, updated_at FROM leads`

func (s *PostgresStore) ListLeads(ctx context.Context, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, selectLeadSQL+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *lead)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate leads")
	}
	return leads, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, selectLeadSQL+` WHERE id = $1`, id)
	lead, err := scanLead(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return lead, nil
}

func scanLead(row pgx.Row) (*model.Lead, error) {
	var lead model.Lead
	var status string
	var data []byte
	if err := row.Scan(
		&lead.ID, &lead.SubmissionID, &lead.SourceID, &lead.ProspectUsername,
		&lead.Source, &status, &lead.LastEvent, &data, &lead.CreatedAt, &lead.UpdatedAt,
	); err != nil {
		return nil, err
	}
	lead.Status = model.LeadStatus(status)
	if err := json.Unmarshal(data, &lead.Data); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal lead snapshot")
	}
	return &lead, nil
}

func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus, event string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, last_event = $2, updated_at = $3 WHERE id = $4`,
		string(status), event, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("lead not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SampleLabeled(ctx context.Context, n int, fixedOrder bool) ([]model.LabeledRecord, error) {
	order := `random()`
	if fixedOrder {
		order = `created_at, id`
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, body, human_answer FROM labeled_dataset ORDER BY `+order+` LIMIT $1`,
		n,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: sample labeled dataset")
	}
	defer rows.Close()

	var records []model.LabeledRecord
	for rows.Next() {
		var rec model.LabeledRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Body, &rec.HumanAnswer); err != nil {
			return nil, eris.Wrap(err, "postgres: scan labeled record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate labeled records")
	}
	return records, nil
}

func (s *PostgresStore) InsertLabeled(ctx context.Context, records []model.LabeledRecord) (int, error) {
	inserted := 0
	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO labeled_dataset (id, title, body, human_answer) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
			id, rec.Title, rec.Body, rec.HumanAnswer,
		)
		if err != nil {
			return inserted, eris.Wrap(err, "postgres: insert labeled record")
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PostgresStore) GetPrompt(ctx context.Context) (*model.ClassificationPrompt, error) {
	var p model.ClassificationPrompt
	err := s.pool.QueryRow(ctx,
		`SELECT prompt, version, updated_at FROM prompt WHERE id = 1`,
	).Scan(&p.Text, &p.Version, &p.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get prompt")
	}
	return &p, nil
}

func (s *PostgresStore) UpdatePrompt(ctx context.Context, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prompt SET prompt = $1, version = version + 1, updated_at = $2 WHERE id = 1`,
		text, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update prompt")
	}
	if tag.RowsAffected() == 0 {
		return eris.New("postgres: prompt row missing; run migrations")
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES ($1, $2, $3)`,
		run.ID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary, runErr error) error {
	status := model.RunStatusComplete
	errText := ""
	if runErr != nil {
		status = model.RunStatusFailed
		errText = runErr.Error()
	}
	var summaryJSON []byte
	if summary != nil {
		var err error
		summaryJSON, err = json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal run summary")
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, error = NULLIF($3, ''), ended_at = $4 WHERE id = $5`,
		string(status), summaryJSON, errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, summary, error, started_at, ended_at FROM runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var summaryJSON []byte
		var errText *string
		if err := rows.Scan(&r.ID, &status, &summaryJSON, &errText, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if errText != nil {
			r.Error = *errText
		}
		if len(summaryJSON) > 0 {
			r.Summary = &model.RunSummary{}
			if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal run summary")
			}
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate runs")
	}
	return runs, nil
}
