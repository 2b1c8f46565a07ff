package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/startino/reletino/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// zero-infrastructure option for local runs; Postgres is preferred for
// anything long lived.
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
CREATE TABLE IF NOT EXISTS evaluated_submissions (
	id                  TEXT PRIMARY KEY,
	source_id           TEXT NOT NULL UNIQUE,
	title               TEXT NOT NULL UNIQUE,
	body                TEXT NOT NULL DEFAULT '',
	url                 TEXT NOT NULL DEFAULT '',
	author              TEXT NOT NULL DEFAULT '',
	community           TEXT NOT NULL DEFAULT '',
	score               INTEGER NOT NULL DEFAULT 0,
	is_relevant         INTEGER NOT NULL,
	reason              TEXT NOT NULL,
	alignment_score     REAL,
	qualifying_question TEXT,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	submission_id     TEXT NOT NULL REFERENCES evaluated_submissions(id),
	source_id         TEXT NOT NULL UNIQUE,
	prospect_username TEXT NOT NULL,
	source            TEXT NOT NULL,
	status            TEXT NOT NULL,
	last_event        TEXT NOT NULL,
	data              TEXT NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS labeled_dataset (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL,
	human_answer INTEGER NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS prompt (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	prompt     TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	summary    TEXT,
	error      TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	ended_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_submissions_is_relevant ON evaluated_submissions(is_relevant);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO prompt (id, prompt) VALUES (1, ?)`,
		model.DefaultClassificationPrompt,
	)
	return eris.Wrap(err, "sqlite: seed prompt")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ExistingSubmissionKeys(ctx context.Context, sourceIDs []string) ([]SubmissionKey, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sourceIDs)), ",")
	args := make([]any, len(sourceIDs))
	for i, id := range sourceIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, title FROM evaluated_submissions WHERE source_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query existing submissions")
	}
	defer rows.Close()

	var keys []SubmissionKey
	for rows.Next() {
		var k SubmissionKey
		if err := rows.Scan(&k.SourceID, &k.Title); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan submission key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: iterate submission keys")
}

func (s *SQLiteStore) SaveSubmissions(ctx context.Context, subs []model.EvaluatedSubmission) ([]model.StoredSubmission, error) {
	var saved []model.StoredSubmission
	for _, sub := range subs {
		id := uuid.New().String()
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO evaluated_submissions
			(id, source_id, title, body, url, author, community, score, is_relevant, reason, alignment_score, qualifying_question, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, sub.Post.SourceID, sub.Post.Title, sub.Post.Body, sub.Post.URL,
			sub.Post.Author, sub.Post.Community, sub.Post.Score,
			sub.IsRelevant, sub.Reason, sub.AlignmentScore, sub.QualifyingQuestion, now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert submission %s", sub.Post.SourceID)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: rows affected")
		}
		if affected == 0 {
			continue // already stored
		}
		saved = append(saved, model.StoredSubmission{
			ID:         id,
			SourceID:   sub.Post.SourceID,
			Title:      sub.Post.Title,
			Body:       sub.Post.Body,
			URL:        sub.Post.URL,
			Author:     sub.Post.Author,
			Community:  sub.Post.Community,
			IsRelevant: sub.IsRelevant,
			Reason:     sub.Reason,
			CreatedAt:  now,
		})
	}
	return saved, nil
}

func (s *SQLiteStore) SaveLeads(ctx context.Context, leads []model.Lead) (int, error) {
	inserted := 0
	for _, lead := range leads {
		data, err := json.Marshal(lead.Data)
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: marshal lead snapshot")
		}
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO leads
			(id, submission_id, source_id, prospect_username, source, status, last_event, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), lead.SubmissionID, lead.SourceID, lead.ProspectUsername,
			lead.Source, string(lead.Status), lead.LastEvent, string(data), now, now,
		)
		if err != nil {
			return inserted, eris.Wrapf(err, "sqlite: insert lead %s", lead.SourceID)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(affected)
	}
	return inserted, nil
}

const sqliteSelectLead = `SELECT id, submission_id, source_id, prospect_username, source, status, last_event, data, created_at, updated_at FROM leads`

func (s *SQLiteStore) ListLeads(ctx context.Context, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, sqliteSelectLead+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanSQLiteLead(rows.Scan)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectLead+` WHERE id = ?`, id)
	lead, err := scanSQLiteLead(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("lead not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return lead, nil
}

func scanSQLiteLead(scan func(...any) error) (*model.Lead, error) {
	var lead model.Lead
	var status, data string
	if err := scan(
		&lead.ID, &lead.SubmissionID, &lead.SourceID, &lead.ProspectUsername,
		&lead.Source, &status, &lead.LastEvent, &data, &lead.CreatedAt, &lead.UpdatedAt,
	); err != nil {
		return nil, err
	}
	lead.Status = model.LeadStatus(status)
	if err := json.Unmarshal([]byte(data), &lead.Data); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal lead snapshot")
	}
	return &lead, nil
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus, event string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, last_event = ?, updated_at = ? WHERE id = ?`,
		string(status), event, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead status %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if affected == 0 {
		return eris.Errorf("lead not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) SampleLabeled(ctx context.Context, n int, fixedOrder bool) ([]model.LabeledRecord, error) {
	order := `RANDOM()`
	if fixedOrder {
		order = `created_at, id`
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, body, human_answer FROM labeled_dataset ORDER BY `+order+` LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: sample labeled dataset")
	}
	defer rows.Close()

	var records []model.LabeledRecord
	for rows.Next() {
		var rec model.LabeledRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Body, &rec.HumanAnswer); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan labeled record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate labeled records")
}

func (s *SQLiteStore) InsertLabeled(ctx context.Context, records []model.LabeledRecord) (int, error) {
	inserted := 0
	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO labeled_dataset (id, title, body, human_answer) VALUES (?, ?, ?, ?)`,
			id, rec.Title, rec.Body, rec.HumanAnswer,
		)
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: insert labeled record")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(affected)
	}
	return inserted, nil
}

func (s *SQLiteStore) GetPrompt(ctx context.Context) (*model.ClassificationPrompt, error) {
	var p model.ClassificationPrompt
	err := s.db.QueryRowContext(ctx,
		`SELECT prompt, version, updated_at FROM prompt WHERE id = 1`,
	).Scan(&p.Text, &p.Version, &p.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get prompt")
	}
	return &p, nil
}

func (s *SQLiteStore) UpdatePrompt(ctx context.Context, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prompt SET prompt = ?, version = version + 1, updated_at = ? WHERE id = 1`,
		text, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update prompt")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if affected == 0 {
		return eris.New("sqlite: prompt row missing; run migrations")
	}
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary, runErr error) error {
	status := model.RunStatusComplete
	var errText *string
	if runErr != nil {
		status = model.RunStatusFailed
		msg := runErr.Error()
		errText = &msg
	}
	var summaryJSON *string
	if summary != nil {
		raw, err := json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal run summary")
		}
		text := string(raw)
		summaryJSON = &text
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, error = ?, ended_at = ? WHERE id = ?`,
		string(status), summaryJSON, errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if affected == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, summary, error, started_at, ended_at FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var summaryJSON, errText *string
		if err := rows.Scan(&r.ID, &status, &summaryJSON, &errText, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if errText != nil {
			r.Error = *errText
		}
		if summaryJSON != nil && *summaryJSON != "" {
			r.Summary = &model.RunSummary{}
			if err := json.Unmarshal([]byte(*summaryJSON), r.Summary); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal run summary")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}
