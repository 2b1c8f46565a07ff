package model

import "time"

// EvaluatedSubmission wraps a Post with the classifier's judgment.
// Reason is non-empty whenever classification succeeded.
type EvaluatedSubmission struct {
	Post               Post     `json:"post"`
	IsRelevant         bool     `json:"is_relevant"`
	Reason             string   `json:"reason"`
	AlignmentScore     *float64 `json:"alignment_score,omitempty"`
	QualifyingQuestion *string  `json:"qualifying_question,omitempty"`
}

// StoredSubmission is an EvaluatedSubmission as persisted, with its row
// identity. The store returns these only for rows it actually wrote.
type StoredSubmission struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	URL        string    `json:"url"`
	Author     string    `json:"author"`
	Community  string    `json:"community"`
	IsRelevant bool      `json:"is_relevant"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}
