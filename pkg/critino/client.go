// Package critino records classification decisions with the external critique
// service for audit. Recording failures are reported to the caller but must
// never fail the pipeline.
package critino

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client records critiques for evaluated submissions.
type Client interface {
	RecordCritique(ctx context.Context, req CritiqueRequest) error
}

// CritiqueRequest is one audit record: the post as seen, the model's decision,
// and optionally a human-corrected optimal answer.
type CritiqueRequest struct {
	ID          string // submission identity, used as the critique path ID
	Environment string // e.g. "reletino/<workspace>/<project>"
	Context     string
	Query       string // "<title>...</title><selftext>...</selftext>"
	Response    string // model decision JSON
	Optimal     string
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithTeam overrides the default team name.
func WithTeam(team string) Option {
	return func(c *httpClient) { c.team = team }
}

// WithEnvironment sets the environment used when a request leaves it empty.
func WithEnvironment(environment string) Option {
	return func(c *httpClient) { c.environment = environment }
}

type httpClient struct {
	baseURL     string
	apiKey      string
	team        string
	environment string
	http        *http.Client
}

// NewClient creates a critique-recording client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		team:    "startino",
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) RecordCritique(ctx context.Context, req CritiqueRequest) error {
	body, err := json.Marshal(map[string]string{
		"context":  req.Context,
		"query":    req.Query,
		"response": req.Response,
		"optimal":  req.Optimal,
	})
	if err != nil {
		return eris.Wrap(err, "critino: marshal critique")
	}

	environment := req.Environment
	if environment == "" {
		environment = c.environment
	}

	q := url.Values{
		"team_name":        {c.team},
		"environment_name": {environment},
		"populate_missing": {"true"},
		"similarity_key":   {"situation"},
	}
	endpoint := c.baseURL + "/critiques/" + url.PathEscape(req.ID) + "?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "critino: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Critino-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "critino: send critique")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return eris.Errorf("critino: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
