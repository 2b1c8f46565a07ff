package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startino/reletino/internal/ingest"
	"github.com/startino/reletino/internal/model"
	"github.com/startino/reletino/internal/profile"
	"github.com/startino/reletino/internal/store"
	"github.com/startino/reletino/pkg/anthropic"
	"github.com/startino/reletino/pkg/critino"
	"github.com/startino/reletino/pkg/reddit"
)

type pipelineStore struct {
	store.Store

	keys        []store.SubmissionKey
	promptErr   error
	saveErr     error
	savedSubs   []model.EvaluatedSubmission
	savedLeads  []model.Lead
	completed   []completion
	dupOnSaveID string // source id the store pretends was concurrently inserted
}

type completion struct {
	summary *model.RunSummary
	err     error
}

func (s *pipelineStore) ExistingSubmissionKeys(ctx context.Context, ids []string) ([]store.SubmissionKey, error) {
	return s.keys, nil
}

func (s *pipelineStore) GetPrompt(ctx context.Context) (*model.ClassificationPrompt, error) {
	if s.promptErr != nil {
		return nil, s.promptErr
	}
	return &model.ClassificationPrompt{Text: "find buyers", Version: 1}, nil
}

func (s *pipelineStore) SaveSubmissions(ctx context.Context, subs []model.EvaluatedSubmission) ([]model.StoredSubmission, error) {
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	s.savedSubs = append(s.savedSubs, subs...)
	var out []model.StoredSubmission
	for i, sub := range subs {
		if sub.Post.SourceID == s.dupOnSaveID {
			continue
		}
		out = append(out, model.StoredSubmission{
			ID:         fmt.Sprintf("row-%d", i),
			SourceID:   sub.Post.SourceID,
			Title:      sub.Post.Title,
			Body:       sub.Post.Body,
			IsRelevant: sub.IsRelevant,
			Reason:     sub.Reason,
		})
	}
	return out, nil
}

func (s *pipelineStore) SaveLeads(ctx context.Context, leads []model.Lead) (int, error) {
	s.savedLeads = append(s.savedLeads, leads...)
	return len(leads), nil
}

func (s *pipelineStore) CreateRun(ctx context.Context) (*model.Run, error) {
	return &model.Run{ID: "run-1", Status: model.RunStatusRunning}, nil
}

func (s *pipelineStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary, runErr error) error {
	s.completed = append(s.completed, completion{summary: summary, err: runErr})
	return nil
}

type recordingCritic struct {
	requests []critino.CritiqueRequest
	err      error
}

func (c *recordingCritic) RecordCritique(ctx context.Context, req critino.CritiqueRequest) error {
	c.requests = append(c.requests, req)
	return c.err
}

type listingClient struct {
	posts []reddit.RawPost
}

func (c *listingClient) Token(ctx context.Context) (string, error) { return "tok", nil }

func (c *listingClient) ListNew(ctx context.Context, communities []string, limit int, after string) (*reddit.Listing, error) {
	return &reddit.Listing{Posts: c.posts}, nil
}

func testProfile() *profile.Profile {
	return &profile.Profile{
		Company:     "Acme",
		Context:     "Acme sells CRM software to small agencies.",
		Communities: []string{"smallbusiness"},
	}
}

// titleRoutingAI answers classification requests based on the post title in
// the user message. Titles absent from verdicts fail classification.
type titleRoutingAI struct {
	verdicts map[string]bool
}

func (a *titleRoutingAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	content := req.Messages[0].Content
	for title, relevant := range a.verdicts {
		if strings.HasPrefix(content, "Title: "+title+"\n") {
			return textResponse(fmt.Sprintf(`{"is_relevant": %t, "reason": "scripted verdict"}`, relevant)), nil
		}
	}
	return nil, errors.New("model unavailable")
}

func newTestPipeline(st store.Store, critic critino.Client, posts []reddit.RawPost, verdicts map[string]bool) *Pipeline {
	ing := ingest.New(&listingClient{posts: posts}, st, ingest.Config{
		Communities: []string{"smallbusiness"},
		MaxPages:    1,
	})
	cls := NewClassifier(&titleRoutingAI{verdicts: verdicts}, "test-model", 1, time.Millisecond)
	return New(ing, nil, cls, st, critic, testProfile(), 2)
}

func TestRun_SavesSubmissionsAndDerivesLeads(t *testing.T) {
	st := &pipelineStore{}
	critic := &recordingCritic{}
	posts := []reddit.RawPost{
		{ID: "p1", Title: "Need a CRM", Selftext: "any recs?", Author: "alice", URL: "https://r/p1"},
		{ID: "p2", Title: "Show off my garden", Selftext: "tomatoes", Author: "bob", URL: "https://r/p2"},
	}
	p := newTestPipeline(st, critic, posts, map[string]bool{
		"Need a CRM":         true,
		"Show off my garden": false,
	})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 0, summary.Duplicates)
	assert.Equal(t, 2, summary.Classified)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 1, summary.Leads)

	require.Len(t, st.savedSubs, 2)
	require.Len(t, st.savedLeads, 1)
	lead := st.savedLeads[0]
	assert.Equal(t, "p1", lead.SourceID)
	assert.Equal(t, "alice", lead.ProspectUsername)
	assert.Equal(t, model.LeadStatusUnderReview, lead.Status)
	assert.Equal(t, model.LeadEventDiscovered, lead.LastEvent)
	assert.Equal(t, model.LeadSourceTheirPost, lead.Source)
	assert.Equal(t, "Need a CRM", lead.Data.Title)
	assert.Equal(t, "https://r/p1", lead.Data.URL)

	// One critique per evaluated submission, relevant or not.
	require.Len(t, critic.requests, 2)
	assert.Contains(t, critic.requests[0].Query, "<title>")

	require.Len(t, st.completed, 1)
	assert.NoError(t, st.completed[0].err)
	assert.Equal(t, summary, st.completed[0].summary)
}

func TestRun_ClassificationFailureSkipsPostOnly(t *testing.T) {
	st := &pipelineStore{}
	posts := []reddit.RawPost{
		{ID: "p1", Title: "Need a CRM", Selftext: "recs?", Author: "alice"},
		{ID: "p2", Title: "Unscripted post", Selftext: "boom", Author: "bob"},
	}
	p := newTestPipeline(st, nil, posts, map[string]bool{"Need a CRM": true})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Classified)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Saved)
	require.Len(t, st.savedSubs, 1)
	assert.Equal(t, "p1", st.savedSubs[0].Post.SourceID)
}

func TestRun_ConcurrentInsertProducesNoLead(t *testing.T) {
	// The store pretends p1 was written by another run between classify and
	// save, so no lead may be derived from it.
	st := &pipelineStore{dupOnSaveID: "p1"}
	posts := []reddit.RawPost{
		{ID: "p1", Title: "Need a CRM", Selftext: "recs?", Author: "alice"},
	}
	p := newTestPipeline(st, nil, posts, map[string]bool{"Need a CRM": true})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Classified)
	assert.Equal(t, 0, summary.Saved)
	assert.Equal(t, 0, summary.Leads)
	assert.Empty(t, st.savedLeads)
}

func TestRun_AllDuplicatesShortCircuits(t *testing.T) {
	st := &pipelineStore{keys: []store.SubmissionKey{{SourceID: "p1", Title: "Need a CRM"}}}
	posts := []reddit.RawPost{
		{ID: "p1", Title: "Need a CRM", Selftext: "recs?", Author: "alice"},
	}
	p := newTestPipeline(st, nil, posts, map[string]bool{"Need a CRM": true})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 0, summary.Classified)
	assert.Empty(t, st.savedSubs)
}

func TestRun_PromptLoadFailureIsFatal(t *testing.T) {
	st := &pipelineStore{promptErr: errors.New("prompt table missing")}
	posts := []reddit.RawPost{
		{ID: "p1", Title: "Need a CRM", Selftext: "recs?", Author: "alice"},
	}
	p := newTestPipeline(st, nil, posts, map[string]bool{"Need a CRM": true})

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load prompt")

	// The run row still records the failure.
	require.Len(t, st.completed, 1)
	assert.Error(t, st.completed[0].err)
}

func TestRun_CritiqueFailureDoesNotFailRun(t *testing.T) {
	st := &pipelineStore{}
	critic := &recordingCritic{err: errors.New("critino down")}
	posts := []reddit.RawPost{
		{ID: "p1", Title: "Need a CRM", Selftext: "recs?", Author: "alice"},
	}
	p := newTestPipeline(st, critic, posts, map[string]bool{"Need a CRM": true})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Saved)
	assert.Len(t, critic.requests, 1)
}

func TestDeriveLeads_OnlyRelevantNewRows(t *testing.T) {
	posts := []model.Post{
		{SourceID: "a", Title: "one", Author: "u1", URL: "https://r/a"},
		{SourceID: "b", Title: "two", Author: "u2", URL: "https://r/b"},
	}
	saved := []model.StoredSubmission{
		{ID: "row-a", SourceID: "a", IsRelevant: true},
		{ID: "row-b", SourceID: "b", IsRelevant: false},
	}

	leads := deriveLeads(saved, posts)
	require.Len(t, leads, 1)
	assert.Equal(t, "row-a", leads[0].SubmissionID)
	assert.Equal(t, "u1", leads[0].ProspectUsername)
}
