// Package pipeline runs the fetch, summarize, classify, persist cycle that
// turns community posts into leads.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/startino/reletino/internal/ingest"
	"github.com/startino/reletino/internal/model"
	"github.com/startino/reletino/internal/profile"
	"github.com/startino/reletino/internal/store"
	"github.com/startino/reletino/pkg/critino"
)

// Pipeline wires the ingester, summarizer, and classifier over the store.
type Pipeline struct {
	ingester   *ingest.Ingester
	summarizer *Summarizer
	classifier *Classifier
	store      store.Store
	critic     critino.Client // nil disables critique recording
	prof       *profile.Profile
	workers    int
}

func New(ing *ingest.Ingester, sum *Summarizer, cls *Classifier, st store.Store, critic critino.Client, prof *profile.Profile, workers int) *Pipeline {
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		ingester:   ing,
		summarizer: sum,
		classifier: cls,
		store:      st,
		critic:     critic,
		prof:       prof,
		workers:    workers,
	}
}

// evaluation pairs a post's pipeline outcome with its slice position so
// concurrent workers never reorder results.
type evaluation struct {
	sub        *model.EvaluatedSubmission
	skipped    bool
	summarized bool
}

// Run executes one full cycle and records it as a run row. The returned
// summary is also persisted on the run.
func (p *Pipeline) Run(ctx context.Context) (*model.RunSummary, error) {
	run, err := p.store.CreateRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	summary, runErr := p.execute(ctx)
	if completeErr := p.store.CompleteRun(ctx, run.ID, summary, runErr); completeErr != nil {
		zap.L().Error("failed to record run outcome", zap.String("run_id", run.ID), zap.Error(completeErr))
	}
	if runErr != nil {
		return nil, runErr
	}

	zap.L().Info("run complete",
		zap.String("run_id", run.ID),
		zap.Int("fetched", summary.Fetched),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("summarized", summary.Summarized),
		zap.Int("classified", summary.Classified),
		zap.Int("skipped", summary.Skipped),
		zap.Int("saved", summary.Saved),
		zap.Int("leads", summary.Leads))
	return summary, nil
}

func (p *Pipeline) execute(ctx context.Context) (*model.RunSummary, error) {
	summary := &model.RunSummary{}

	fetched, err := p.ingester.Fetch(ctx)
	if err != nil {
		return summary, err
	}
	summary.Fetched = fetched.Fetched
	summary.Duplicates = fetched.Duplicates
	if len(fetched.Posts) == 0 {
		return summary, nil
	}

	prompt, err := p.store.GetPrompt(ctx)
	if err != nil {
		return summary, eris.Wrap(err, "pipeline: load prompt")
	}

	results := make([]evaluation, len(fetched.Posts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for idx, post := range fetched.Posts {
		g.Go(func() error {
			results[idx] = p.evaluate(gctx, prompt.Text, post)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	var evaluated []model.EvaluatedSubmission
	for _, ev := range results {
		if ev.summarized {
			summary.Summarized++
		}
		if ev.skipped {
			summary.Skipped++
			continue
		}
		summary.Classified++
		evaluated = append(evaluated, *ev.sub)
	}
	if len(evaluated) == 0 {
		return summary, nil
	}

	saved, err := p.store.SaveSubmissions(ctx, evaluated)
	if err != nil {
		return summary, eris.Wrap(err, "pipeline: save submissions")
	}
	summary.Saved = len(saved)

	p.recordCritiques(ctx, evaluated)

	leads := deriveLeads(saved, fetched.Posts)
	if len(leads) > 0 {
		inserted, err := p.store.SaveLeads(ctx, leads)
		if err != nil {
			return summary, eris.Wrap(err, "pipeline: save leads")
		}
		summary.Leads = inserted
	}

	return summary, nil
}

// evaluate summarizes and classifies one post. A summarizer failure falls
// back to the original body; a classifier failure marks the post skipped.
func (p *Pipeline) evaluate(ctx context.Context, prompt string, post model.Post) evaluation {
	body := post.Body
	didSummarize := false
	if p.summarizer != nil {
		condensed, wasSummarized, err := p.summarizer.Summarize(ctx, post.SourceID, post.Body)
		if err != nil {
			zap.L().Warn("summarizer failed, classifying original body",
				zap.String("source_id", post.SourceID), zap.Error(err))
		} else if wasSummarized {
			body = condensed
			didSummarize = true
		}
	}

	verdict, err := p.classifier.Classify(ctx, prompt, p.prof.ContextText(), post.Title, body)
	if err != nil {
		cErr := &ClassificationError{SourceID: post.SourceID, Err: err}
		zap.L().Warn("classification failed, skipping post", zap.Error(cErr))
		return evaluation{skipped: true, summarized: didSummarize}
	}

	return evaluation{
		sub: &model.EvaluatedSubmission{
			Post:               post.WithBody(body),
			IsRelevant:         verdict.IsRelevant,
			Reason:             verdict.Reason,
			AlignmentScore:     verdict.AlignmentScore,
			QualifyingQuestion: verdict.QualifyingQuestion,
		},
		summarized: didSummarize,
	}
}

// recordCritiques ships each verdict to the critique service. Failures are
// logged and never affect the run.
func (p *Pipeline) recordCritiques(ctx context.Context, evaluated []model.EvaluatedSubmission) {
	if p.critic == nil {
		return
	}
	for _, sub := range evaluated {
		verdictJSON, err := json.Marshal(Verdict{IsRelevant: sub.IsRelevant, Reason: sub.Reason})
		if err != nil {
			continue
		}
		req := critino.CritiqueRequest{
			ID:       sub.Post.SourceID,
			Context:  p.prof.ContextText(),
			Query:    fmt.Sprintf("<title>%s</title><selftext>%s</selftext>", sub.Post.Title, sub.Post.Body),
			Response: string(verdictJSON),
		}
		if err := p.critic.RecordCritique(ctx, req); err != nil {
			zap.L().Warn("critique recording failed",
				zap.String("source_id", sub.Post.SourceID), zap.Error(err))
		}
	}
}

// deriveLeads builds lead rows for newly saved relevant submissions. The
// original posts supply the author and URL for the snapshot.
func deriveLeads(saved []model.StoredSubmission, posts []model.Post) []model.Lead {
	byID := make(map[string]model.Post, len(posts))
	for _, post := range posts {
		byID[post.SourceID] = post
	}

	var leads []model.Lead
	for _, sub := range saved {
		if !sub.IsRelevant {
			continue
		}
		post, ok := byID[sub.SourceID]
		if !ok {
			continue
		}
		leads = append(leads, model.Lead{
			SubmissionID:     sub.ID,
			SourceID:         sub.SourceID,
			ProspectUsername: post.Author,
			Source:           model.LeadSourceTheirPost,
			Status:           model.LeadStatusUnderReview,
			LastEvent:        model.LeadEventDiscovered,
			Data: model.LeadSnapshot{
				Title: post.Title,
				Body:  post.Body,
				URL:   post.URL,
			},
		})
	}
	return leads
}
