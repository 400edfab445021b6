package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// WorkKind represents the type of a work unit
type WorkKind string

const (
	WorkKindIssue       WorkKind = "issue"
	WorkKindPullRequest WorkKind = "pull_request"
)

// WorkUnit is an instruction to re-evaluate exactly one changed entity. It
// carries enough context for the executor to fetch the entity again.
type WorkUnit struct {
	ID              string
	Kind            WorkKind
	Bot             string
	Tracker         string   // tracker key, empty for pull request work
	Repository      string   // owner/repo, empty for issue work
	Repositories    []string // repositories referencing the tracker
	EntityID        string
	EntityUpdatedAt time.Time
	Title           string
	URL             string
	CreatedAt       time.Time
}

// NewIssueWorkUnit creates the work unit for a changed tracker issue
func NewIssueWorkUnit(bot string, tracker *Tracker, issue *Issue, repositories []*Repository) *WorkUnit {
	names := make([]string, 0, len(repositories))
	for _, r := range repositories {
		names = append(names, r.FullName)
	}
	return &WorkUnit{
		ID:              uuid.New().String(),
		Kind:            WorkKindIssue,
		Bot:             bot,
		Tracker:         tracker.Key(),
		Repositories:    names,
		EntityID:        issue.ID,
		EntityUpdatedAt: issue.UpdatedAt,
		Title:           issue.Title,
		URL:             issue.URL,
		CreatedAt:       time.Now(),
	}
}

// NewPullRequestWorkUnit creates the work unit for a pull request that needs
// to be re-evaluated
func NewPullRequestWorkUnit(bot string, repo *Repository, pr *PullRequest) *WorkUnit {
	return &WorkUnit{
		ID:              uuid.New().String(),
		Kind:            WorkKindPullRequest,
		Bot:             bot,
		Repository:      repo.FullName,
		EntityID:        strconv.Itoa(pr.Number),
		EntityUpdatedAt: pr.UpdatedAt,
		Title:           pr.Title,
		URL:             pr.URL,
		CreatedAt:       time.Now(),
	}
}

// WorkUnitFilter narrows a work unit listing. Zero values match everything.
type WorkUnitFilter struct {
	Bot   string
	Kind  WorkKind
	Since time.Time
	Limit int
}

// BotRun records the outcome of one PeriodicWork invocation
type BotRun struct {
	ID        string
	Bot       string
	Phase     string
	StartedAt time.Time
	Duration  time.Duration
	Emitted   int
	Error     string
}

// NewBotRun creates a run record with a fresh ID
func NewBotRun(bot, phase string, startedAt time.Time) *BotRun {
	return &BotRun{
		ID:        uuid.New().String(),
		Bot:       bot,
		Phase:     phase,
		StartedAt: startedAt,
	}
}

// Failed reports whether the run ended with an error
func (r *BotRun) Failed() bool {
	return r.Error != ""
}
