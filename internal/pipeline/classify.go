package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/startino/reletino/internal/resilience"
	"github.com/startino/reletino/pkg/anthropic"
)

// classifyTemperature keeps verdicts near-deterministic.
const classifyTemperature = 0.1

const classifyContract = `Respond with ONLY a JSON object in exactly this shape, no prose before or after:
{"is_relevant": true|false, "reason": "<one or two sentences explaining the verdict>"}

You may optionally include "alignment_score" (a number from 0 to 5 rating how well the author matches the ideal customer) and "qualifying_question" (one question worth asking the author).`

// Verdict is the classifier's judgment on a single post. AlignmentScore and
// QualifyingQuestion are optional extras the model may or may not emit.
type Verdict struct {
	IsRelevant         bool     `json:"is_relevant"`
	Reason             string   `json:"reason"`
	AlignmentScore     *float64 `json:"alignment_score,omitempty"`
	QualifyingQuestion *string  `json:"qualifying_question,omitempty"`
}

// ClassificationError marks a per-post classification failure so callers can
// skip the post instead of aborting the whole run.
type ClassificationError struct {
	SourceID string
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s: %v", e.SourceID, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Classifier asks the model whether a post is a potential lead.
type Classifier struct {
	ai    anthropic.Client
	model string
	retry resilience.RetryConfig
}

// NewClassifier builds a classifier that retries each post a fixed number of
// times with a constant delay before giving up on it.
func NewClassifier(ai anthropic.Client, model string, attempts int, delay time.Duration) *Classifier {
	if attempts <= 0 {
		attempts = 3
	}
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Classifier{
		ai:    ai,
		model: model,
		retry: resilience.FixedDelay(attempts, delay),
	}
}

// Classify judges one post against the given instructions and company context.
func (c *Classifier) Classify(ctx context.Context, prompt, companyContext, title, body string) (*Verdict, error) {
	temp := classifyTemperature
	req := anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   1024,
		Temperature: &temp,
		System: []anthropic.SystemBlock{
			{Text: prompt},
			{Text: "COMPANY CONTEXT\n" + companyContext, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
			{Text: classifyContract},
		},
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf("Title: %s\nContent: %s", title, body)},
		},
	}

	verdict, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Verdict, error) {
		resp, err := c.ai.CreateMessage(ctx, req)
		if err != nil {
			return nil, eris.Wrap(err, "classify: create message")
		}
		resp.Usage.LogCost(c.model, "classify")

		text := ResponseText(resp)
		var v Verdict
		if err := json.Unmarshal([]byte(CleanJSON(text)), &v); err != nil {
			zap.L().Warn("classify: unparseable verdict", zap.String("text", text), zap.Error(err))
			return nil, eris.Wrap(err, "classify: parse verdict")
		}
		if strings.TrimSpace(v.Reason) == "" {
			return nil, eris.New("classify: verdict missing reason")
		}
		if v.AlignmentScore != nil && (*v.AlignmentScore < 0 || *v.AlignmentScore > 5) {
			zap.L().Debug("classify: alignment score out of range, dropping",
				zap.Float64("score", *v.AlignmentScore))
			v.AlignmentScore = nil
		}
		return &v, nil
	})
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

// ResponseText joins the text blocks of an API response.
func ResponseText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CleanJSON extracts a JSON object from model text that may carry markdown
// fences or surrounding prose.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
