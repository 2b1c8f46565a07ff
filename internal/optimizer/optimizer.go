// Package optimizer evaluates the classification prompt against the labeled
// dataset and rewrites it until accuracy clears the configured bar.
package optimizer

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/startino/reletino/internal/model"
	"github.com/startino/reletino/internal/pipeline"
	"github.com/startino/reletino/internal/profile"
	"github.com/startino/reletino/internal/store"
	"github.com/startino/reletino/pkg/anthropic"
)

// ErrAccuracyNotReached is returned when the iteration cap is hit before the
// prompt clears the required accuracy. The best-seen prompt is left persisted.
var ErrAccuracyNotReached = eris.New("optimizer: required accuracy not reached")

// Classifier is the subset of the pipeline classifier the optimizer needs.
type Classifier interface {
	Classify(ctx context.Context, prompt, companyContext, title, body string) (*pipeline.Verdict, error)
}

// Config tunes the improvement loop.
type Config struct {
	SampleSize       int
	RequiredAccuracy float64
	MaxIterations    int
	// FixedOrder samples the dataset deterministically instead of shuffling.
	// Useful for comparing two prompts on identical records.
	FixedOrder bool
}

// Optimizer runs the evaluate-rewrite loop over the stored prompt.
type Optimizer struct {
	store        store.Store
	classifier   Classifier
	rewriter     anthropic.Client
	rewriteModel string
	prof         *profile.Profile
	cfg          Config
}

func New(st store.Store, cls Classifier, rewriter anthropic.Client, rewriteModel string, prof *profile.Profile, cfg Config) *Optimizer {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 20
	}
	if cfg.RequiredAccuracy <= 0 {
		cfg.RequiredAccuracy = 0.8
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	return &Optimizer{
		store:        st,
		classifier:   cls,
		rewriter:     rewriter,
		rewriteModel: rewriteModel,
		prof:         prof,
		cfg:          cfg,
	}
}

// Optimize loops until the prompt's accuracy on a dataset sample reaches the
// required bar or the iteration cap is hit. The prompt is always re-read from
// the store at the top of each iteration so concurrent edits are picked up.
func (o *Optimizer) Optimize(ctx context.Context) (*model.OptimizeSummary, error) {
	summary := &model.OptimizeSummary{}
	bestPrompt := ""

	for iter := 1; iter <= o.cfg.MaxIterations; iter++ {
		summary.Iterations = iter

		prompt, err := o.store.GetPrompt(ctx)
		if err != nil {
			return summary, eris.Wrap(err, "optimizer: load prompt")
		}
		summary.PromptVersion = prompt.Version

		sample, err := o.store.SampleLabeled(ctx, o.cfg.SampleSize, o.cfg.FixedOrder)
		if err != nil {
			return summary, eris.Wrap(err, "optimizer: sample dataset")
		}
		if len(sample) == 0 {
			return summary, eris.New("optimizer: labeled dataset is empty")
		}

		accuracy, misses := o.evaluate(ctx, prompt.Text, sample)
		summary.FinalAccuracy = accuracy
		if accuracy > summary.BestAccuracy {
			summary.BestAccuracy = accuracy
			bestPrompt = prompt.Text
		}

		zap.L().Info("evaluated prompt",
			zap.Int("iteration", iter),
			zap.Int("prompt_version", prompt.Version),
			zap.Int("sample_size", len(sample)),
			zap.Int("misclassified", len(misses)),
			zap.Float64("accuracy", accuracy))

		if accuracy >= o.cfg.RequiredAccuracy {
			summary.Converged = true
			return summary, nil
		}
		if iter == o.cfg.MaxIterations {
			break
		}

		rewritten, err := o.rewrite(ctx, prompt.Text, misses)
		if err != nil {
			return summary, err
		}
		if err := o.store.UpdatePrompt(ctx, rewritten); err != nil {
			return summary, eris.Wrap(err, "optimizer: persist rewritten prompt")
		}
		summary.Rewrites++
	}

	// Leave the best prompt in place rather than the last experiment.
	if bestPrompt != "" {
		current, err := o.store.GetPrompt(ctx)
		if err == nil && current.Text != bestPrompt {
			if err := o.store.UpdatePrompt(ctx, bestPrompt); err != nil {
				return summary, eris.Wrap(err, "optimizer: restore best prompt")
			}
			summary.Rewrites++
		}
	}
	return summary, ErrAccuracyNotReached
}

// evaluate classifies every sampled record with the candidate prompt. A
// record that fails to classify counts as a miss; the optimizer cannot tell
// a broken prompt from a flaky call, so it errs toward rewriting.
func (o *Optimizer) evaluate(ctx context.Context, prompt string, sample []model.LabeledRecord) (float64, []model.Misclassification) {
	correct := 0
	var misses []model.Misclassification
	for _, rec := range sample {
		verdict, err := o.classifier.Classify(ctx, prompt, o.prof.ContextText(), rec.Title, rec.Body)
		if err != nil {
			zap.L().Warn("record classification failed",
				zap.String("record_id", rec.ID), zap.Error(err))
			misses = append(misses, model.Misclassification{
				Record:      rec,
				ModelAnswer: !rec.HumanAnswer,
				ModelReason: "classification failed: " + err.Error(),
			})
			continue
		}
		if verdict.IsRelevant == rec.HumanAnswer {
			correct++
			continue
		}
		misses = append(misses, model.Misclassification{
			Record:      rec,
			ModelAnswer: verdict.IsRelevant,
			ModelReason: verdict.Reason,
		})
	}
	return float64(correct) / float64(len(sample)), misses
}

func (o *Optimizer) rewrite(ctx context.Context, prompt string, misses []model.Misclassification) (string, error) {
	resp, err := o.rewriter.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     o.rewriteModel,
		MaxTokens: 4096,
		System: []anthropic.SystemBlock{
			{Text: rewriteSystemPrompt},
			{Text: "COMPANY CONTEXT\n" + o.prof.ContextText()},
		},
		Messages: []anthropic.Message{
			{Role: "user", Content: buildRewriteRequest(prompt, misses)},
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "optimizer: rewrite prompt")
	}
	resp.Usage.LogCost(o.rewriteModel, "rewrite")

	var out struct {
		UpdatedPrompt string `json:"updated_prompt"`
	}
	text := pipeline.ResponseText(resp)
	if err := json.Unmarshal([]byte(pipeline.CleanJSON(text)), &out); err != nil {
		return "", eris.Wrap(err, "optimizer: parse rewritten prompt")
	}
	if out.UpdatedPrompt == "" {
		return "", eris.New("optimizer: rewrite returned empty prompt")
	}
	return out.UpdatedPrompt, nil
}
