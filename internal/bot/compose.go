package bot

import (
	"fmt"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
	"github.com/kurihiro0119/issue-watch-bots/internal/forge"
	"github.com/kurihiro0119/issue-watch-bots/internal/logging"
)

// Entry pairs a repository with the tracker its pull requests are checked
// against
type Entry struct {
	Repository *domain.Repository
	Tracker    *domain.Tracker
}

// Compose builds the bot set for a list of entries: one IssueBot per
// distinct tracker, then one PullRequestBot per entry. Trackers are grouped
// by Key, so aliases of the same tracker share one detector. Detector bots
// come first, in the order their tracker was first seen, followed by the
// dependent bots in entry order.
//
// Any entry that cannot be turned into a bot fails the whole composition.
func Compose(entries []Entry, f forge.Forge, logger logging.Logger) ([]Bot, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	type group struct {
		tracker *domain.Tracker
		repos   []*domain.Repository
		names   map[string]bool
	}
	var order []string
	groups := make(map[string]*group)

	var dependents []Bot
	for i, entry := range entries {
		if entry.Repository == nil || entry.Tracker == nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("entry %d: repository and tracker are both required", i))
		}

		key := entry.Tracker.Key()
		g, ok := groups[key]
		if !ok {
			g = &group{tracker: entry.Tracker, names: make(map[string]bool)}
			groups[key] = g
			order = append(order, key)
		}
		if !g.names[entry.Repository.FullName] {
			g.names[entry.Repository.FullName] = true
			g.repos = append(g.repos, entry.Repository)
		}

		src, err := f.PullRequestSource(entry.Repository)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, entry.Repository.FullName, err)
		}
		logger.Info("setting up pull request bot", "repository", entry.Repository.FullName, "tracker", key)
		dependents = append(dependents, NewPullRequestBot(entry.Repository, entry.Tracker, src))
	}

	bots := make([]Bot, 0, len(order)+len(dependents))
	for _, key := range order {
		g := groups[key]
		src, err := f.IssueSource(g.tracker)
		if err != nil {
			return nil, fmt.Errorf("tracker %s: %w", key, err)
		}
		logger.Info("setting up issue bot", "tracker", key, "repositories", len(g.repos))
		bots = append(bots, NewIssueBot(g.tracker, src, g.repos, logger))
	}
	bots = append(bots, dependents...)

	if err := ValidateOrder(bots); err != nil {
		return nil, err
	}
	return bots, nil
}
