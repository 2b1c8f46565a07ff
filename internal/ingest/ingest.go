// Package ingest pulls new posts from the source communities and filters
// out the ones the store has already seen.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/startino/reletino/internal/model"
	"github.com/startino/reletino/internal/store"
	"github.com/startino/reletino/pkg/reddit"
)

// Config controls pagination depth and page size.
type Config struct {
	Communities []string
	PageLimit   int
	MaxPages    int
}

// Result carries the deduplicated posts plus the counters the run summary needs.
type Result struct {
	Posts      []model.Post
	Fetched    int
	Duplicates int
}

// Ingester fetches listings and drops posts already persisted.
type Ingester struct {
	client reddit.Client
	store  store.Store
	cfg    Config
	folder cases.Caser
}

func New(client reddit.Client, st store.Store, cfg Config) *Ingester {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 20
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &Ingester{
		client: client,
		store:  st,
		cfg:    cfg,
		folder: cases.Fold(),
	}
}

// Fetch pages through the communities' newest posts and returns the ones not
// yet stored. A failed duplicate check aborts the run rather than letting
// already-processed posts leak back in as fresh work.
func (i *Ingester) Fetch(ctx context.Context) (*Result, error) {
	var raw []reddit.RawPost
	after := ""
	for page := 0; page < i.cfg.MaxPages; page++ {
		listing, err := i.client.ListNew(ctx, i.cfg.Communities, i.cfg.PageLimit, after)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: fetch page %d", page+1)
		}
		raw = append(raw, listing.Posts...)
		if listing.After == "" || len(listing.Posts) == 0 {
			break
		}
		after = listing.After
	}

	posts := make([]model.Post, 0, len(raw))
	for _, rp := range raw {
		posts = append(posts, toPost(rp))
	}

	fresh, dupes, err := i.dedupe(ctx, posts)
	if err != nil {
		return nil, err
	}

	zap.L().Info("fetched posts",
		zap.Int("fetched", len(posts)),
		zap.Int("duplicates", dupes),
		zap.Int("fresh", len(fresh)),
		zap.Strings("communities", i.cfg.Communities))

	return &Result{Posts: fresh, Fetched: len(posts), Duplicates: dupes}, nil
}

// dedupe drops posts whose source id or title is already stored. Titles are
// compared case-folded and NFKC-normalized so trivially reposted content does
// not slip past the title constraint.
func (i *Ingester) dedupe(ctx context.Context, posts []model.Post) ([]model.Post, int, error) {
	if len(posts) == 0 {
		return nil, 0, nil
	}
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.SourceID)
	}
	keys, err := i.store.ExistingSubmissionKeys(ctx, ids)
	if err != nil {
		return nil, 0, eris.Wrap(err, "ingest: check existing submissions")
	}

	seenIDs := make(map[string]struct{}, len(keys))
	seenTitles := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seenIDs[k.SourceID] = struct{}{}
		seenTitles[i.normalizeTitle(k.Title)] = struct{}{}
	}

	var fresh []model.Post
	dupes := 0
	for _, p := range posts {
		title := i.normalizeTitle(p.Title)
		if _, ok := seenIDs[p.SourceID]; ok {
			dupes++
			continue
		}
		if _, ok := seenTitles[title]; ok {
			dupes++
			continue
		}
		// Guard against duplicate posts within the same batch.
		seenIDs[p.SourceID] = struct{}{}
		seenTitles[title] = struct{}{}
		fresh = append(fresh, p)
	}
	return fresh, dupes, nil
}

func (i *Ingester) normalizeTitle(title string) string {
	return i.folder.String(norm.NFKC.String(strings.TrimSpace(title)))
}

func toPost(rp reddit.RawPost) model.Post {
	return model.Post{
		SourceID:  rp.ID,
		Title:     rp.Title,
		Body:      rp.Selftext,
		Author:    rp.Author,
		URL:       rp.URL,
		Community: rp.Subreddit,
		Score:     rp.Score,
		CreatedAt: time.Unix(int64(rp.CreatedUTC), 0).UTC(),
	}
}
