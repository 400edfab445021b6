package bot

import (
	"context"
	"fmt"

	"github.com/kurihiro0119/issue-watch-bots/internal/detector"
	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	"github.com/kurihiro0119/issue-watch-bots/internal/forge"
	"github.com/kurihiro0119/issue-watch-bots/internal/logging"
)

// IssueBot polls one tracker for updated issues and emits an issue work unit
// for each change, so the pull requests linked to it get re-evaluated
type IssueBot struct {
	name         string
	tracker      domain.Tracker
	repositories []*domain.Repository
	detector     *detector.Detector
}

var (
	_ Bot       = (*IssueBot)(nil)
	_ Inspector = (*IssueBot)(nil)
)

// NewIssueBot creates the detector bot for a tracker. Repositories are the
// ones configured against the tracker; they travel with every work unit.
func NewIssueBot(tracker *domain.Tracker, src forge.IssueSource, repositories []*domain.Repository, logger logging.Logger) *IssueBot {
	name := "IssueBot@" + tracker.Key()
	return &IssueBot{
		name:         name,
		tracker:      *tracker,
		repositories: repositories,
		detector:     detector.New(name, src, logger),
	}
}

func (b *IssueBot) Name() string {
	return b.name
}

func (b *IssueBot) Phase() Phase {
	return PhaseDetector
}

// Tracker returns the tracker this bot watches
func (b *IssueBot) Tracker() domain.Tracker {
	return b.tracker
}

// Repositories returns the repositories that reference the tracker
func (b *IssueBot) Repositories() []*domain.Repository {
	return b.repositories
}

// PeriodicWork polls the tracker once
func (b *IssueBot) PeriodicWork(ctx context.Context) ([]*domain.WorkUnit, error) {
	changed, err := b.detector.PollOnce(ctx)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", b.tracker.Project, err)
	}

	units := make([]*domain.WorkUnit, 0, len(changed))
	for _, issue := range changed {
		units = append(units, domain.NewIssueWorkUnit(b.name, &b.tracker, issue, b.repositories))
	}
	return units, nil
}

// Snapshot reports the detector's cursor
func (b *IssueBot) Snapshot() Snapshot {
	state := b.detector.State()
	repos := make([]string, 0, len(b.repositories))
	for _, r := range b.repositories {
		repos = append(repos, r.FullName)
	}
	return Snapshot{
		Name:          b.name,
		Phase:         PhaseDetector,
		Tracker:       b.tracker.Key(),
		Repositories:  repos,
		Initialized:   state.Initialized,
		HighWaterMark: state.HighWaterMark,
		LastSeen:      len(state.LastSeen),
	}
}
