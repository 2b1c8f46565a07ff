// Package store persists submissions, leads, the labeled dataset, and the
// classification prompt. Postgres is the primary backend; SQLite backs
// single-machine setups behind the same interface.
package store

import (
	"context"

	"github.com/startino/reletino/internal/model"
)

// SubmissionKey identifies an already-evaluated submission for dedup checks.
type SubmissionKey struct {
	SourceID string
	Title    string
}

// Store defines the persistence interface for the pipeline and optimizer.
type Store interface {
	// Submissions
	ExistingSubmissionKeys(ctx context.Context, sourceIDs []string) ([]SubmissionKey, error)
	SaveSubmissions(ctx context.Context, subs []model.EvaluatedSubmission) ([]model.StoredSubmission, error)

	// Leads
	SaveLeads(ctx context.Context, leads []model.Lead) (int, error)
	ListLeads(ctx context.Context, limit int) ([]model.Lead, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus, event string) error

	// Labeled dataset (read-only for the optimizer)
	SampleLabeled(ctx context.Context, n int, fixedOrder bool) ([]model.LabeledRecord, error)
	InsertLabeled(ctx context.Context, records []model.LabeledRecord) (int, error)

	// Classification prompt, the single mutable shared state. Always read
	// through here; never cache across optimizer iterations.
	GetPrompt(ctx context.Context) (*model.ClassificationPrompt, error)
	UpdatePrompt(ctx context.Context, text string) error

	// Runs
	CreateRun(ctx context.Context) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary, runErr error) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
