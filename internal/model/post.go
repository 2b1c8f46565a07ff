// Package model defines the core domain types shared across the pipeline.
package model

import "time"

// Post is a single content item fetched from the source. Immutable once
// fetched; the ingester owns it until it is handed downstream.
type Post struct {
	SourceID  string    `json:"source_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	URL       string    `json:"url"`
	Community string    `json:"community"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// WithBody returns a copy of the post with a replacement body. Used by the
// summarizer so the original post is never mutated in place.
func (p Post) WithBody(body string) Post {
	p.Body = body
	return p
}
