package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/startino/reletino/internal/model"
	"github.com/startino/reletino/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newServeStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedLead writes one relevant submission and its lead, returning the lead id.
func seedLead(t *testing.T, st store.Store) string {
	t.Helper()
	ctx := context.Background()

	saved, err := st.SaveSubmissions(ctx, []model.EvaluatedSubmission{{
		Post: model.Post{
			SourceID: "p1", Title: "Need a CRM", Body: "recs?",
			Author: "alice", URL: "https://r/p1",
		},
		IsRelevant: true,
		Reason:     "direct ask",
	}})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	_, err = st.SaveLeads(ctx, []model.Lead{{
		SubmissionID:     saved[0].ID,
		SourceID:         "p1",
		ProspectUsername: "alice",
		Source:           model.LeadSourceTheirPost,
		Status:           model.LeadStatusUnderReview,
		LastEvent:        model.LeadEventDiscovered,
		Data:             model.LeadSnapshot{Title: "Need a CRM", URL: "https://r/p1"},
	}})
	require.NoError(t, err)

	leads, err := st.ListLeads(ctx, 1)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	return leads[0].ID
}

func TestRouter_Health(t *testing.T) {
	router := newRouter(newServeStore(t), func() {})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_ListRunsEmpty(t *testing.T) {
	router := newRouter(newServeStore(t), func() {})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRouter_TriggerRunFiresRunner(t *testing.T) {
	var mu sync.Mutex
	fired := false
	done := make(chan struct{})
	router := newRouter(newServeStore(t), func() {
		mu.Lock()
		fired = true
		mu.Unlock()
		close(done)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner was not invoked")
	}
	mu.Lock()
	assert.True(t, fired)
	mu.Unlock()
}

func TestRouter_GetLead(t *testing.T) {
	st := newServeStore(t)
	leadID := seedLead(t, st)
	router := newRouter(st, func() {})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/leads/"+leadID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var lead model.Lead
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lead))
	assert.Equal(t, "p1", lead.SourceID)
	assert.Equal(t, model.LeadStatusUnderReview, lead.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/leads/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func patchStatus(router http.Handler, leadID, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/api/leads/"+leadID+"/status", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_LeadStatusTransitions(t *testing.T) {
	st := newServeStore(t)
	leadID := seedLead(t, st)
	router := newRouter(st, func() {})

	// under_review -> contacted is allowed.
	rec := patchStatus(router, leadID, `{"status":"contacted","event":"outreach_sent"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var lead model.Lead
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lead))
	assert.Equal(t, model.LeadStatusContacted, lead.Status)
	assert.Equal(t, "outreach_sent", lead.LastEvent)

	// contacted -> under_review is not.
	rec = patchStatus(router, leadID, `{"status":"under_review"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// contacted -> subscriber is.
	rec = patchStatus(router, leadID, `{"status":"subscriber"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_LeadStatusValidation(t *testing.T) {
	st := newServeStore(t)
	leadID := seedLead(t, st)
	router := newRouter(st, func() {})

	rec := patchStatus(router, leadID, `{"status":"archived"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = patchStatus(router, leadID, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = patchStatus(router, "missing", `{"status":"contacted"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ListLeads(t *testing.T) {
	st := newServeStore(t)
	seedLead(t, st)
	router := newRouter(st, func() {})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/leads", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var leads []model.Lead
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &leads))
	require.Len(t, leads, 1)
	assert.Equal(t, "alice", leads[0].ProspectUsername)
}
