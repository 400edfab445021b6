package forge

import (
	"context"
	"time"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
)

// IssueSource is the query surface of one tracker, already narrowed to the
// issues of interest
type IssueSource interface {
	// MostRecentlyUpdated returns the issue with the latest UpdatedAt, or
	// nil if the tracker has none
	MostRecentlyUpdated(ctx context.Context) (*domain.Issue, error)

	// UpdatedSince returns every issue whose UpdatedAt is at or after since.
	// Ordering is unspecified.
	UpdatedSince(ctx context.Context, since time.Time) ([]*domain.Issue, error)
}

// PullRequestSource lists the open pull requests of one repository
type PullRequestSource interface {
	OpenPullRequests(ctx context.Context) ([]*domain.PullRequest, error)
}

// Forge builds sources for trackers and repositories hosted on it
type Forge interface {
	IssueSource(tracker *domain.Tracker) (IssueSource, error)
	PullRequestSource(repo *domain.Repository) (PullRequestSource, error)
}
