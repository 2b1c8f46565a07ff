package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startino/reletino/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func evaluated(sourceID, title string, relevant bool) model.EvaluatedSubmission {
	return model.EvaluatedSubmission{
		Post: model.Post{
			SourceID:  sourceID,
			Title:     title,
			Body:      "looking for recommendations",
			Author:    "someuser",
			Community: "smallbusiness",
		},
		IsRelevant: relevant,
		Reason:     "test reason",
	}
}

func TestNewSQLite_WALMode(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "wal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	var mode string
	err = s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

func TestSQLiteMigrate_SeedsDefaultPrompt(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	p, err := s.GetPrompt(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultClassificationPrompt, p.Text)
	assert.Equal(t, 1, p.Version)

	// Migrating again must not reset an updated prompt.
	require.NoError(t, s.UpdatePrompt(ctx, "tightened instructions"))
	require.NoError(t, s.Migrate(ctx))

	p, err = s.GetPrompt(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tightened instructions", p.Text)
	assert.Equal(t, 2, p.Version)
}

func TestSQLiteSaveSubmissions_SkipsDuplicates(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	saved, err := s.SaveSubmissions(ctx, []model.EvaluatedSubmission{
		evaluated("a1", "First post", true),
		evaluated("a2", "Second post", false),
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)

	// Same source id, and a new source id reusing an existing title.
	saved, err = s.SaveSubmissions(ctx, []model.EvaluatedSubmission{
		evaluated("a1", "Changed title", true),
		evaluated("a3", "Second post", true),
		evaluated("a4", "Third post", true),
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "a4", saved[0].SourceID)

	keys, err := s.ExistingSubmissionKeys(ctx, []string{"a1", "a3", "a4", "zzz"})
	require.NoError(t, err)
	assert.Len(t, keys, 2) // a1 and a4; a3 was a title conflict
}

func TestSQLiteLeads_Lifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	saved, err := s.SaveSubmissions(ctx, []model.EvaluatedSubmission{
		evaluated("b1", "Relevant post", true),
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	lead := model.Lead{
		SubmissionID:     saved[0].ID,
		SourceID:         "b1",
		ProspectUsername: "someuser",
		Source:           model.LeadSourceTheirPost,
		Status:           model.LeadStatusUnderReview,
		LastEvent:        model.LeadEventDiscovered,
		Data:             model.LeadSnapshot{Title: "Relevant post", URL: "https://example.com/b1"},
	}

	inserted, err := s.SaveLeads(ctx, []model.Lead{lead})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	// Second save of the same source id is a no-op.
	inserted, err = s.SaveLeads(ctx, []model.Lead{lead})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	leads, err := s.ListLeads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, model.LeadStatusUnderReview, leads[0].Status)
	assert.Equal(t, "Relevant post", leads[0].Data.Title)

	require.NoError(t, s.UpdateLeadStatus(ctx, leads[0].ID, model.LeadStatusContacted, "outreach_sent"))

	got, err := s.GetLead(ctx, leads[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusContacted, got.Status)
	assert.Equal(t, "outreach_sent", got.LastEvent)

	err = s.UpdateLeadStatus(ctx, "missing", model.LeadStatusDone, "x")
	assert.Error(t, err)
}

func TestSQLiteLabeledDataset_SampleModes(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	records := []model.LabeledRecord{
		{ID: "r1", Title: "one", Body: "body one", HumanAnswer: true},
		{ID: "r2", Title: "two", Body: "body two", HumanAnswer: false},
		{ID: "r3", Title: "three", Body: "body three", HumanAnswer: true},
	}
	inserted, err := s.InsertLabeled(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	// Re-inserting existing ids is idempotent.
	inserted, err = s.InsertLabeled(ctx, records[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	sample, err := s.SampleLabeled(ctx, 2, false)
	require.NoError(t, err)
	assert.Len(t, sample, 2)

	fixed, err := s.SampleLabeled(ctx, 10, true)
	require.NoError(t, err)
	require.Len(t, fixed, 3)
}

func TestSQLiteRuns_CompleteAndFail(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	summary := &model.RunSummary{Fetched: 8, Duplicates: 2, Saved: 6, Leads: 3}
	require.NoError(t, s.CompleteRun(ctx, run.ID, summary, nil))

	failed, err := s.CreateRun(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, failed.ID, nil, assert.AnError))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]model.Run{}
	for _, r := range runs {
		byID[r.ID] = r
	}
	done := byID[run.ID]
	assert.Equal(t, model.RunStatusComplete, done.Status)
	require.NotNil(t, done.Summary)
	assert.Equal(t, 6, done.Summary.Saved)
	assert.NotNil(t, done.EndedAt)

	bad := byID[failed.ID]
	assert.Equal(t, model.RunStatusFailed, bad.Status)
	assert.Contains(t, bad.Error, assert.AnError.Error())
}
