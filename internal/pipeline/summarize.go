package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/startino/reletino/pkg/anthropic"
)

const summarizePrompt = `Condense the post below for a sales analyst deciding whether the author is a potential customer. Keep every detail that signals intent, budget, pain, or timeline.

Guidelines:
- Use short bullet points.
- Preserve the author's own wording for any need or complaint.
- Keep concrete numbers, tools, and product names.
- Drop greetings, filler, and off-topic asides.

Post:
%s`

// Summarizer shortens long post bodies before classification to cut token
// spend. Posts at or under the floor pass through untouched.
type Summarizer struct {
	ai    anthropic.Client
	model string
	floor int
}

func NewSummarizer(ai anthropic.Client, model string, floorTokens int) *Summarizer {
	if floorTokens <= 0 {
		floorTokens = 150
	}
	return &Summarizer{ai: ai, model: model, floor: floorTokens}
}

// Summarize returns a condensed body for the post, or the original body
// unchanged when it is already short enough to classify directly.
func (s *Summarizer) Summarize(ctx context.Context, sourceID, body string) (string, bool, error) {
	before := len(strings.Fields(body))
	if before <= s.floor {
		return body, false, nil
	}

	resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(summarizePrompt, body)},
		},
	})
	if err != nil {
		return "", false, eris.Wrapf(err, "summarize %s", sourceID)
	}
	resp.Usage.LogCost(s.model, "summarize")

	summary := strings.TrimSpace(ResponseText(resp))
	if summary == "" {
		return "", false, eris.Errorf("summarize %s: empty response", sourceID)
	}

	after := len(strings.Fields(summary))
	zap.L().Debug("summarized post",
		zap.String("source_id", sourceID),
		zap.Int("words_before", before),
		zap.Int("words_after", after))

	return summary, true, nil
}
