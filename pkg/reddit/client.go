// Package reddit wraps the Reddit OAuth API for token exchange and paginated
// listing of new posts.
package reddit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/startino/reletino/internal/resilience"
)

const (
	defaultBaseURL = "https://oauth.reddit.com"
	defaultAuthURL = "https://www.reddit.com/api/v1/access_token"

	// tokenExpirySlack refreshes slightly before the reported expiry so an
	// in-flight request never carries a token that dies mid-call.
	tokenExpirySlack = 30 * time.Second
)

// Client fetches pages of new posts from one or more communities.
type Client interface {
	// Token returns a cached access token, exchanging credentials when the
	// cache is empty or expired.
	Token(ctx context.Context) (string, error)

	// ListNew fetches one page of up to limit new posts from the given
	// communities (joined listing). after is the opaque pagination cursor
	// from the previous page; empty for the first page.
	ListNew(ctx context.Context, communities []string, limit int, after string) (*Listing, error)
}

// Listing is one page of raw posts plus the cursor for the next page.
// After is empty when the source is exhausted.
type Listing struct {
	Posts []RawPost
	After string
}

// RawPost is a single item as returned by the listing endpoint.
type RawPost struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	Author     string  `json:"author"`
	URL        string  `json:"url"`
	Subreddit  string  `json:"subreddit"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default listing base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithAuthURL overrides the default token exchange URL.
func WithAuthURL(u string) Option {
	return func(c *httpClient) { c.authURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit overrides the default request rate (1 req/s).
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	clientID     string
	clientSecret string
	userAgent    string
	baseURL      string
	authURL      string
	http         *http.Client
	limiter      *rate.Limiter

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a Reddit API client using OAuth2 client credentials.
func NewClient(clientID, clientSecret, userAgent string, opts ...Option) Client {
	c := &httpClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		userAgent:    userAgent,
		baseURL:      defaultBaseURL,
		authURL:      defaultAuthURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(1, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Token returns the cached token while it is still valid, otherwise performs
// a client-credentials exchange. The broker itself does no backoff; a single
// retry at the call site is acceptable.
func (c *httpClient) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpirySlack)) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Err: eris.Wrap(err, "reddit: create token request")}
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &AuthError{Err: eris.Wrap(err, "reddit: token exchange")}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{Err: eris.Wrap(err, "reddit: read token response")}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("reddit: token exchange returned %d: %s", resp.StatusCode, truncate(body, 200)),
		}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", &AuthError{Err: eris.Wrap(err, "reddit: decode token response")}
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Err: eris.New("reddit: empty access token in response")}
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *httpClient) ListNew(ctx context.Context, communities []string, limit int, after string) (*Listing, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "reddit: rate limit")
	}

	endpoint := c.baseURL + "/r/" + url.PathEscape(strings.Join(communities, "+")) + "/new.json"
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if after != "" {
		q.Set("after", after)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Err: eris.Wrap(err, "reddit: create listing request")}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Err: eris.Wrap(err, "reddit: fetch listing")}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Err: eris.Wrap(err, "reddit: read listing response")}
	}
	if resp.StatusCode != http.StatusOK {
		fe := &FetchError{
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("reddit: listing returned %d: %s", resp.StatusCode, truncate(body, 200)),
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			fe.Err = resilience.NewTransientError(fe.Err, resp.StatusCode)
		}
		return nil, fe
	}

	var envelope struct {
		Data struct {
			After    string `json:"after"`
			Children []struct {
				Data RawPost `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &FetchError{Err: eris.Wrap(err, "reddit: decode listing response")}
	}

	listing := &Listing{After: envelope.Data.After}
	for _, child := range envelope.Data.Children {
		listing.Posts = append(listing.Posts, child.Data)
	}
	return listing, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}

