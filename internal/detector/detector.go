// Package detector decides, on every poll of a tracker, which issues have
// changed since they were last observed.
//
// The tracker offers no change feed, only "the most recently updated issue"
// and "all issues updated at or after T". The detector keeps a high-water
// mark over UpdatedAt and the timestamps from the previous poll's result.
// An issue is reported when it is new to that result or its UpdatedAt moved
// forward. Because the window query is inclusive, the same issue keeps coming
// back while nothing newer arrives; the snapshot comparison suppresses it.
//
// The first poll only establishes the cursor and reports nothing. Bots that
// consume the changes are expected to do their own full scan at startup.
package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
	"github.com/kurihiro0119/issue-watch-bots/internal/forge"
	"github.com/kurihiro0119/issue-watch-bots/internal/logging"
)

// Poll advances state by one poll against src and returns the new state
// together with the issues that changed. On error the returned state is the
// input state, untouched, and no issues are returned.
func Poll(ctx context.Context, src forge.IssueSource, state State) (State, []*domain.Issue, error) {
	if !state.Initialized {
		next, err := bootstrap(ctx, src)
		if err != nil {
			return state, nil, err
		}
		return next, nil, nil
	}

	issues, err := src.UpdatedSince(ctx, state.HighWaterMark)
	if err != nil {
		return state, nil, err
	}

	next := State{
		Initialized:   true,
		HighWaterMark: state.HighWaterMark,
		LastSeen:      make(map[string]time.Time, len(issues)),
	}

	// a source may list one issue twice while it is being edited; only the
	// newest version counts
	newest := make(map[string]*domain.Issue, len(issues))
	order := make([]string, 0, len(issues))
	for _, issue := range issues {
		if err := validate(issue); err != nil {
			return state, nil, err
		}
		prev, ok := newest[issue.ID]
		if !ok {
			order = append(order, issue.ID)
		} else if !issue.UpdatedAt.After(prev.UpdatedAt) {
			continue
		}
		newest[issue.ID] = issue
	}

	var changed []*domain.Issue
	for _, id := range order {
		issue := newest[id]
		next.LastSeen[issue.ID] = issue.UpdatedAt
		if issue.UpdatedAt.After(next.HighWaterMark) {
			next.HighWaterMark = issue.UpdatedAt
		}

		if seen, ok := state.LastSeen[issue.ID]; ok && !issue.UpdatedAt.After(seen) {
			continue
		}
		changed = append(changed, issue)
	}

	return next, changed, nil
}

// bootstrap establishes the cursor from the most recently updated issue
func bootstrap(ctx context.Context, src forge.IssueSource) (State, error) {
	latest, err := src.MostRecentlyUpdated(ctx)
	if err != nil {
		return State{}, err
	}

	if latest == nil {
		return State{
			Initialized:   true,
			HighWaterMark: Epoch,
			LastSeen:      map[string]time.Time{},
		}, nil
	}

	if err := validate(latest); err != nil {
		return State{}, err
	}

	return State{
		Initialized:   true,
		HighWaterMark: latest.UpdatedAt,
		LastSeen:      map[string]time.Time{latest.ID: latest.UpdatedAt},
	}, nil
}

func validate(issue *domain.Issue) error {
	if issue == nil {
		return apperrors.NewMalformedError("tracker returned a nil issue")
	}
	if issue.ID == "" {
		return apperrors.NewMalformedError("tracker returned an issue without id")
	}
	if issue.UpdatedAt.IsZero() {
		return apperrors.NewMalformedError(fmt.Sprintf("issue %s has no update timestamp", issue.ID))
	}
	return nil
}

// Detector owns the state for one tracker and is the only writer of it.
// PollOnce must not be called concurrently with itself; State may be called
// from any goroutine.
type Detector struct {
	name   string
	source forge.IssueSource
	logger logging.Logger

	mu    sync.RWMutex
	state State
}

// New creates a detector over src. Name is used in log records only.
func New(name string, src forge.IssueSource, logger logging.Logger) *Detector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Detector{
		name:   name,
		source: src,
		logger: logger,
	}
}

// PollOnce runs one poll and commits the resulting state if it succeeded
func (d *Detector) PollOnce(ctx context.Context) ([]*domain.Issue, error) {
	d.mu.RLock()
	current := d.state
	d.mu.RUnlock()

	next, changed, err := Poll(ctx, d.source, current)
	if err != nil {
		return nil, err
	}

	if !current.Initialized {
		if len(next.LastSeen) == 0 {
			d.logger.Warn("no issue found, starting from epoch", "detector", d.name, "high_water_mark", next.HighWaterMark)
		} else {
			d.logger.Info("initialized from last updated issue", "detector", d.name, "high_water_mark", next.HighWaterMark)
		}
	}
	for _, issue := range changed {
		d.logger.Debug("issue changed", "detector", d.name, "issue", issue.ID, "updated_at", issue.UpdatedAt)
	}

	d.mu.Lock()
	d.state = next
	d.mu.Unlock()

	return changed, nil
}

// State returns a copy of the current state
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.Clone()
}
