package model

// LabeledRecord is a human-labeled ground-truth row used by the prompt
// optimizer. The pipeline never mutates these.
type LabeledRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	HumanAnswer bool   `json:"human_answer"`
}

// Misclassification records a labeled row the model got wrong, with the
// model's own answer and rationale for the rewrite step.
type Misclassification struct {
	Record      LabeledRecord `json:"record"`
	ModelAnswer bool          `json:"model_answer"`
	ModelReason string        `json:"model_reason"`
}
