package domain

import "time"

// Progress counts items by fetch outcome.
type Progress struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

// Resolved returns the number of items that reached an outcome.
func (p Progress) Resolved() int {
	return p.Done + p.Skipped + p.Errored
}

// Project is the persisted state of one collection's fetch-and-rank session.
type Project struct {
	Key         string   `json:"key"`
	FirstID     int      `json:"first_id"`
	LastID      int      `json:"last_id"`
	URITemplate string   `json:"uri_template"`
	ScoreKey    ScoreKey `json:"score_key"`

	// RevealedAt is set once the reveal detector declared the collection revealed.
	RevealedAt *time.Time `json:"revealed_at,omitempty"`

	Progress  Progress  `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}
