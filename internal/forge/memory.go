package forge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
)

// Memory is an in-process forge. Issues are kept per tracker key and pull
// requests per repository full name. It is safe for concurrent use.
type Memory struct {
	mu           sync.Mutex
	issues       map[string]map[string]*domain.Issue
	pullRequests map[string]map[int]*domain.PullRequest
	failures     map[string]error
	queries      map[string]int
}

var _ Forge = (*Memory)(nil)

// NewMemory creates an empty in-memory forge
func NewMemory() *Memory {
	return &Memory{
		issues:       make(map[string]map[string]*domain.Issue),
		pullRequests: make(map[string]map[int]*domain.PullRequest),
		failures:     make(map[string]error),
		queries:      make(map[string]int),
	}
}

// PutIssue inserts or replaces an issue in the tracker
func (m *Memory) PutIssue(tracker *domain.Tracker, issue domain.Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tracker.Key()
	if m.issues[key] == nil {
		m.issues[key] = make(map[string]*domain.Issue)
	}
	m.issues[key][issue.ID] = &issue
}

// PutPullRequest inserts or replaces an open pull request
func (m *Memory) PutPullRequest(repo *domain.Repository, pr domain.PullRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pullRequests[repo.FullName] == nil {
		m.pullRequests[repo.FullName] = make(map[int]*domain.PullRequest)
	}
	m.pullRequests[repo.FullName][pr.Number] = &pr
}

// ClosePullRequest removes a pull request from the open set
func (m *Memory) ClosePullRequest(repo *domain.Repository, number int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pullRequests[repo.FullName], number)
}

// FailNext makes the next query against the tracker key or repository full
// name return err
func (m *Memory) FailNext(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name] = err
}

// Queries returns how many queries were made against the tracker key or
// repository full name
func (m *Memory) Queries(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries[name]
}

// takeFailure records a query and returns a pending failure, if any.
// Callers must hold m.mu.
func (m *Memory) takeFailure(name string) error {
	m.queries[name]++
	if err, ok := m.failures[name]; ok {
		delete(m.failures, name)
		return err
	}
	return nil
}

// IssueSource returns a source over the tracker's issues
func (m *Memory) IssueSource(tracker *domain.Tracker) (IssueSource, error) {
	if tracker.Project == "" {
		return nil, apperrors.NewConfigError("tracker " + tracker.Name + " has no project")
	}
	return &memoryIssueSource{forge: m, key: tracker.Key()}, nil
}

// PullRequestSource returns a source over the repository's open pull requests
func (m *Memory) PullRequestSource(repo *domain.Repository) (PullRequestSource, error) {
	if repo.FullName == "" {
		return nil, apperrors.NewConfigError("repository " + repo.Name + " has no name")
	}
	return &memoryPullRequestSource{forge: m, name: repo.FullName}, nil
}

type memoryIssueSource struct {
	forge *Memory
	key   string
}

func (s *memoryIssueSource) MostRecentlyUpdated(ctx context.Context) (*domain.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.forge.mu.Lock()
	defer s.forge.mu.Unlock()

	if err := s.forge.takeFailure(s.key); err != nil {
		return nil, err
	}

	var latest *domain.Issue
	for _, issue := range s.forge.issues[s.key] {
		if latest == nil || issue.UpdatedAt.After(latest.UpdatedAt) {
			latest = issue
		}
	}
	if latest == nil {
		return nil, nil
	}
	found := *latest
	return &found, nil
}

func (s *memoryIssueSource) UpdatedSince(ctx context.Context, since time.Time) ([]*domain.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.forge.mu.Lock()
	defer s.forge.mu.Unlock()

	if err := s.forge.takeFailure(s.key); err != nil {
		return nil, err
	}

	var issues []*domain.Issue
	for _, issue := range s.forge.issues[s.key] {
		if issue.UpdatedAt.Before(since) {
			continue
		}
		found := *issue
		issues = append(issues, &found)
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
	return issues, nil
}

type memoryPullRequestSource struct {
	forge *Memory
	name  string
}

func (s *memoryPullRequestSource) OpenPullRequests(ctx context.Context) ([]*domain.PullRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.forge.mu.Lock()
	defer s.forge.mu.Unlock()

	if err := s.forge.takeFailure(s.name); err != nil {
		return nil, err
	}

	var prs []*domain.PullRequest
	for _, pr := range s.forge.pullRequests[s.name] {
		found := *pr
		prs = append(prs, &found)
	}
	sort.Slice(prs, func(i, j int) bool { return prs[i].Number < prs[j].Number })
	return prs, nil
}
