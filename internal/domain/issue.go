package domain

import "time"

// Issue is an entity of interest returned by a tracker. Everything except ID
// and UpdatedAt is payload for the work that follows a change.
type Issue struct {
	ID        string
	Number    int
	Title     string
	State     string
	URL       string
	Labels    []string
	UpdatedAt time.Time
}

// PullRequest is an open pull request in a watched repository
type PullRequest struct {
	Number    int
	Title     string
	HeadSHA   string
	URL       string
	UpdatedAt time.Time
}
