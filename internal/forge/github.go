package forge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
	"github.com/kurihiro0119/issue-watch-bots/internal/logging"
)

// GitHubOptions configures the GitHub forge
type GitHubOptions struct {
	Token    string
	BaseURL  string // API base URL; empty means api.github.com
	MinDelay time.Duration
	Logger   logging.Logger
}

// GitHub implements Forge using the GitHub REST API
type GitHub struct {
	client      *github.Client
	rateLimiter RateLimiter
	host        string
}

var _ Forge = (*GitHub)(nil)

// NewGitHub creates a new GitHub forge
func NewGitHub(opts GitHubOptions) (*GitHub, error) {
	httpClient := http.DefaultClient
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: opts.Token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	client := github.NewClient(httpClient)

	host := domain.DefaultForge
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("invalid GitHub API URL %q: %v", opts.BaseURL, err))
		}
		client.BaseURL = u
		host = u.Hostname()
	}

	minDelay := opts.MinDelay
	if minDelay == 0 {
		minDelay = 100 * time.Millisecond
	}

	return &GitHub{
		client:      client,
		rateLimiter: NewRateLimiter(minDelay, opts.Logger),
		host:        host,
	}, nil
}

// Host returns the forge host trackers and repositories are expected to name
func (g *GitHub) Host() string {
	return g.host
}

// IssueSource returns the source for a tracker's labelled issues
func (g *GitHub) IssueSource(tracker *domain.Tracker) (IssueSource, error) {
	if tracker.Owner() == "" || tracker.Repo() == "" {
		return nil, apperrors.NewConfigError(fmt.Sprintf("tracker %q: project must be owner/repo, got %q", tracker.Name, tracker.Project))
	}
	return &githubIssueSource{forge: g, tracker: *tracker}, nil
}

// PullRequestSource returns the source for a repository's open pull requests
func (g *GitHub) PullRequestSource(repo *domain.Repository) (PullRequestSource, error) {
	if repo.Owner() == "" || repo.Repo() == "" {
		return nil, apperrors.NewConfigError(fmt.Sprintf("repository %q: name must be owner/repo, got %q", repo.Name, repo.FullName))
	}
	return &githubPullRequestSource{forge: g, repo: *repo}, nil
}

type githubIssueSource struct {
	forge   *GitHub
	tracker domain.Tracker
}

func (s *githubIssueSource) listOptions() *github.IssueListByRepoOptions {
	opts := &github.IssueListByRepoOptions{
		State: "all",
		Sort:  "updated",
	}
	if s.tracker.Label != "" {
		opts.Labels = []string{s.tracker.Label}
	}
	return opts
}

// MostRecentlyUpdated retrieves the single most recently updated issue.
// The issues endpoint also returns pull requests, so pages are walked until
// a real issue turns up.
func (s *githubIssueSource) MostRecentlyUpdated(ctx context.Context) (*domain.Issue, error) {
	opts := s.listOptions()
	opts.Direction = "desc"
	opts.PerPage = 100

	for {
		if err := s.forge.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		issues, resp, err := s.forge.client.Issues.ListByRepo(ctx, s.tracker.Owner(), s.tracker.Repo(), opts)
		if err != nil {
			return nil, classify(fmt.Sprintf("failed to list issues for %s", s.tracker.Project), resp, err)
		}
		s.forge.updateRateLimitFromResponse(resp)

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			return toIssue(issue), nil
		}

		if resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

// UpdatedSince retrieves every issue updated at or after since.
//
// Pages are read newest first: an issue edited mid-query jumps ahead of the
// read position, so a later page can repeat an item but never skip one.
// Repeats are collapsed by id, keeping the newest timestamp.
func (s *githubIssueSource) UpdatedSince(ctx context.Context, since time.Time) ([]*domain.Issue, error) {
	opts := s.listOptions()
	opts.Direction = "desc"
	opts.Since = since
	opts.PerPage = 100

	byID := make(map[string]*domain.Issue)
	for {
		if err := s.forge.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		issues, resp, err := s.forge.client.Issues.ListByRepo(ctx, s.tracker.Owner(), s.tracker.Repo(), opts)
		if err != nil {
			return nil, classify(fmt.Sprintf("failed to list issues for %s", s.tracker.Project), resp, err)
		}
		s.forge.updateRateLimitFromResponse(resp)

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			converted := toIssue(issue)
			// The API filters on since already; the lower bound is inclusive
			// either way.
			if converted.UpdatedAt.Before(since) {
				continue
			}
			if prev, ok := byID[converted.ID]; ok && !converted.UpdatedAt.After(prev.UpdatedAt) {
				continue
			}
			byID[converted.ID] = converted
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	allIssues := make([]*domain.Issue, 0, len(byID))
	for _, issue := range byID {
		allIssues = append(allIssues, issue)
	}
	sort.Slice(allIssues, func(i, j int) bool {
		if !allIssues[i].UpdatedAt.Equal(allIssues[j].UpdatedAt) {
			return allIssues[i].UpdatedAt.Before(allIssues[j].UpdatedAt)
		}
		return allIssues[i].Number < allIssues[j].Number
	})
	return allIssues, nil
}

type githubPullRequestSource struct {
	forge *GitHub
	repo  domain.Repository
}

// OpenPullRequests retrieves all open pull requests of the repository
func (s *githubPullRequestSource) OpenPullRequests(ctx context.Context) ([]*domain.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var allPRs []*domain.PullRequest
	for {
		if err := s.forge.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		prs, resp, err := s.forge.client.PullRequests.List(ctx, s.repo.Owner(), s.repo.Repo(), opts)
		if err != nil {
			return nil, classify(fmt.Sprintf("failed to list pull requests for %s", s.repo.FullName), resp, err)
		}
		s.forge.updateRateLimitFromResponse(resp)

		for _, pr := range prs {
			allPRs = append(allPRs, &domain.PullRequest{
				Number:    pr.GetNumber(),
				Title:     pr.GetTitle(),
				HeadSHA:   pr.GetHead().GetSHA(),
				URL:       pr.GetHTMLURL(),
				UpdatedAt: pr.GetUpdatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allPRs, nil
}

func toIssue(issue *github.Issue) *domain.Issue {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}

	id := ""
	if issue.Number != nil {
		id = strconv.Itoa(issue.GetNumber())
	}

	return &domain.Issue{
		ID:        id,
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		State:     issue.GetState(),
		URL:       issue.GetHTMLURL(),
		Labels:    labels,
		UpdatedAt: issue.GetUpdatedAt().Time,
	}
}

// classify maps a go-github failure onto the application error codes
func classify(message string, resp *github.Response, err error) error {
	code := apperrors.ErrCodeTransient

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		code = apperrors.ErrCodeRateLimited
	case resp != nil && resp.StatusCode == http.StatusUnauthorized:
		code = apperrors.ErrCodeUnauthorized
	case resp != nil && resp.StatusCode == http.StatusForbidden:
		code = apperrors.ErrCodeForbidden
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		code = apperrors.ErrCodeNotFound
	}

	return &apperrors.AppError{Code: code, Message: message, Err: err}
}

// updateRateLimitFromResponse updates the rate limiter from API response
func (g *GitHub) updateRateLimitFromResponse(resp *github.Response) {
	if resp != nil && resp.Rate.Limit > 0 && resp.Rate.Remaining >= 0 {
		g.rateLimiter.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
}
