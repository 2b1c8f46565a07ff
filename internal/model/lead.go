package model

import "time"

// LeadStatus is the lifecycle state of a lead. Transitions are driven by
// external actions through the serve API, never by the pipeline itself.
type LeadStatus string

// Lead lifecycle states, in order.
const (
	LeadStatusUnderReview LeadStatus = "under_review"
	LeadStatusContacted   LeadStatus = "contacted"
	LeadStatusDone        LeadStatus = "done"
	LeadStatusSubscriber  LeadStatus = "subscriber"
)

// leadTransitions lists the allowed next states for each status.
var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusUnderReview: {LeadStatusContacted},
	LeadStatusContacted:   {LeadStatusDone, LeadStatusSubscriber},
}

// CanTransition reports whether a lead may move from its current status to next.
func (s LeadStatus) CanTransition(next LeadStatus) bool {
	for _, allowed := range leadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseLeadStatus validates a raw status string.
func ParseLeadStatus(raw string) (LeadStatus, bool) {
	switch LeadStatus(raw) {
	case LeadStatusUnderReview, LeadStatusContacted, LeadStatusDone, LeadStatusSubscriber:
		return LeadStatus(raw), true
	}
	return "", false
}

// LeadSnapshot is the denormalized copy of the originating post carried on
// each lead so the lead row is readable without a join.
type LeadSnapshot struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Lead is a business record derived from a relevant submission.
type Lead struct {
	ID               string       `json:"id"`
	SubmissionID     string       `json:"submission_id"`
	SourceID         string       `json:"source_id"`
	ProspectUsername string       `json:"prospect_username"`
	Source           string       `json:"source"`
	Status           LeadStatus   `json:"status"`
	LastEvent        string       `json:"last_event"`
	Data             LeadSnapshot `json:"data"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Lead provenance constants.
const (
	LeadSourceTheirPost = "their_post"
	LeadEventDiscovered = "discovered"
)
