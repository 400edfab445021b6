package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	"github.com/kurihiro0119/issue-watch-bots/internal/forge"
)

// PullRequestBot re-scans the open pull requests of one repository. The first
// scan emits work for every open pull request; later scans only for pull
// requests that are new or were updated since the previous scan.
type PullRequestBot struct {
	name    string
	repo    domain.Repository
	tracker domain.Tracker
	source  forge.PullRequestSource

	mu      sync.RWMutex
	scanned map[int]time.Time
	ready   bool
	lastRun time.Time
}

var (
	_ Bot       = (*PullRequestBot)(nil)
	_ Inspector = (*PullRequestBot)(nil)
)

// NewPullRequestBot creates the dependent bot for a repository and the
// tracker its pull requests are checked against
func NewPullRequestBot(repo *domain.Repository, tracker *domain.Tracker, src forge.PullRequestSource) *PullRequestBot {
	return &PullRequestBot{
		name:    "PullRequestBot@" + repo.FullName,
		repo:    *repo,
		tracker: *tracker,
		source:  src,
	}
}

func (b *PullRequestBot) Name() string {
	return b.name
}

func (b *PullRequestBot) Phase() Phase {
	return PhaseDependent
}

// Repository returns the repository this bot scans
func (b *PullRequestBot) Repository() domain.Repository {
	return b.repo
}

// Tracker returns the tracker the repository's pull requests are bound to
func (b *PullRequestBot) Tracker() domain.Tracker {
	return b.tracker
}

// PeriodicWork scans the repository once
func (b *PullRequestBot) PeriodicWork(ctx context.Context) ([]*domain.WorkUnit, error) {
	prs, err := b.source.OpenPullRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", b.repo.FullName, err)
	}

	b.mu.RLock()
	previous := b.scanned
	b.mu.RUnlock()

	next := make(map[int]time.Time, len(prs))
	var units []*domain.WorkUnit
	for _, pr := range prs {
		next[pr.Number] = pr.UpdatedAt
		if seen, ok := previous[pr.Number]; ok && !pr.UpdatedAt.After(seen) {
			continue
		}
		units = append(units, domain.NewPullRequestWorkUnit(b.name, &b.repo, pr))
	}

	b.mu.Lock()
	b.scanned = next
	b.ready = true
	b.lastRun = time.Now()
	b.mu.Unlock()

	return units, nil
}

// Snapshot reports how many open pull requests the last scan saw
func (b *PullRequestBot) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Name:          b.name,
		Phase:         PhaseDependent,
		Tracker:       b.tracker.Key(),
		Repositories:  []string{b.repo.FullName},
		Initialized:   b.ready,
		HighWaterMark: b.lastRun,
		LastSeen:      len(b.scanned),
	}
}
