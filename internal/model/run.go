package model

import "time"

// RunStatus tracks a pipeline run's lifecycle.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSummary is the user-visible outcome of a single ingestion run.
type RunSummary struct {
	Fetched    int `json:"fetched"`
	Duplicates int `json:"duplicates"`
	Summarized int `json:"summarized"`
	Classified int `json:"classified"`
	Skipped    int `json:"skipped"`
	Saved      int `json:"saved"`
	Leads      int `json:"leads"`
}

// Run is a persisted pipeline execution with its summary.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Error     string      `json:"error,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
}

// OptimizeSummary is the user-visible outcome of an optimizer run.
type OptimizeSummary struct {
	Iterations    int     `json:"iterations"`
	FinalAccuracy float64 `json:"final_accuracy"`
	BestAccuracy  float64 `json:"best_accuracy"`
	Rewrites      int     `json:"rewrites"`
	PromptVersion int     `json:"prompt_version"`
	Converged     bool    `json:"converged"`
}
