package model

import "time"

// ClassificationPrompt is the versioned instruction text governing relevance
// judgments. Exactly one current instance exists; the classifier reads it, the
// optimizer writes it. It is the single piece of mutable shared state in the
// system and lives in the store, not in process memory.
type ClassificationPrompt struct {
	Text      string    `json:"text"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultClassificationPrompt seeds the prompt table on first migration.
const DefaultClassificationPrompt = `Imagine you are a super talented virtual assistant.
You have the duty of going through social media posts and determining if they are
relevant to look into for your boss.

PURPOSE
Find potential clients and leads for the company.

GUIDANCE
Relevant posts might be:
- Seeking technical co-founders for startups.
- Looking for technical personnel to join a startup team.
- In search of software development agencies or technical consultancy services.
- An idea for a software business or startup.

Irrelevant posts might be:
- Authored by a technical individual, such as a tech founder or software developer.
- Showing off existing products or projects.
- Focused on physical or in-person business ventures.
- From businesses already established.
- From individuals seeking employment.
- Regarding projects or products that have already begun development.
- People or agencies offering their own development services.`
