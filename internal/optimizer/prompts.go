package optimizer

import (
	"fmt"
	"strings"

	"github.com/startino/reletino/internal/model"
)

const rewriteSystemPrompt = `You improve classification prompts for a lead discovery system. The prompt you are given is used to judge whether community posts come from potential customers. You will be shown the current prompt and the posts it misclassified, each with the correct human answer and the model's wrong answer.

Rewrite the prompt so the misclassified posts would be judged correctly, without breaking the judgments it already gets right. Keep the rewritten prompt general; never enumerate the example posts themselves.

Respond with ONLY a JSON object in exactly this shape:
{"updated_prompt": "<the full rewritten prompt>"}`

// buildRewriteRequest renders the current prompt and its failures for the
// rewrite model.
func buildRewriteRequest(prompt string, misses []model.Misclassification) string {
	var b strings.Builder
	b.WriteString("CURRENT PROMPT\n")
	b.WriteString(prompt)
	b.WriteString("\n\nMISCLASSIFIED POSTS\n")
	for i, miss := range misses {
		fmt.Fprintf(&b, "\n--- Example %d ---\n", i+1)
		fmt.Fprintf(&b, "Title: %s\n", miss.Record.Title)
		fmt.Fprintf(&b, "Content: %s\n", miss.Record.Body)
		fmt.Fprintf(&b, "Correct answer: %s\n", label(miss.Record.HumanAnswer))
		fmt.Fprintf(&b, "Model answered: %s\n", label(miss.ModelAnswer))
		fmt.Fprintf(&b, "Model reasoning: %s\n", miss.ModelReason)
	}
	return b.String()
}

func label(relevant bool) string {
	if relevant {
		return "relevant"
	}
	return "not relevant"
}
