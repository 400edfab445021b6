package status

import (
	"context"
	"fmt"
	"time"

	"github.com/kurihiro0119/issue-watch-bots/internal/bot"
	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
	"github.com/kurihiro0119/issue-watch-bots/internal/storage"
)

const (
	defaultRunLimit  = 20
	defaultWorkLimit = 50
	maxLimit         = 500
)

// BotStatus is the reported state of one bot
type BotStatus struct {
	Name          string
	Phase         string
	Tracker       string
	Repositories  []string
	Initialized   bool
	HighWaterMark time.Time
	LastSeen      int
	LastRun       *domain.BotRun
	Healthy       bool
}

// Reporter defines the interface for reporting bot status
type Reporter interface {
	// Bots reports every bot in run order
	Bots(ctx context.Context) ([]*BotStatus, error)

	// BotRuns returns the most recent runs of one bot
	BotRuns(ctx context.Context, bot string, limit int) ([]*domain.BotRun, error)

	// WorkUnits returns the most recent work units matching filter
	WorkUnits(ctx context.Context, filter domain.WorkUnitFilter) ([]*domain.WorkUnit, error)
}

// reporter implements the Reporter interface
type reporter struct {
	bots    []bot.Bot
	byName  map[string]bot.Bot
	storage storage.Storage
}

// NewReporter creates a reporter over a live bot set. The bot set may be
// empty for processes that only read storage.
func NewReporter(bots []bot.Bot, storage storage.Storage) Reporter {
	byName := make(map[string]bot.Bot, len(bots))
	for _, b := range bots {
		byName[b.Name()] = b
	}
	return &reporter{
		bots:    bots,
		byName:  byName,
		storage: storage,
	}
}

// Bots combines live snapshots with each bot's latest recorded run
func (r *reporter) Bots(ctx context.Context) ([]*BotStatus, error) {
	statuses := make([]*BotStatus, 0, len(r.bots))
	for _, b := range r.bots {
		st := &BotStatus{Name: b.Name(), Phase: b.Phase().String(), Healthy: true}
		if insp, ok := b.(bot.Inspector); ok {
			snap := insp.Snapshot()
			st.Tracker = snap.Tracker
			st.Repositories = snap.Repositories
			st.Initialized = snap.Initialized
			st.HighWaterMark = snap.HighWaterMark
			st.LastSeen = snap.LastSeen
		}

		runs, err := r.storage.GetBotRuns(ctx, b.Name(), 1)
		if err != nil {
			return nil, apperrors.NewInternalError(fmt.Sprintf("load runs for %s", b.Name()), err)
		}
		if len(runs) > 0 {
			st.LastRun = runs[0]
			st.Healthy = !runs[0].Failed()
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// BotRuns returns the runs of a known bot, newest first
func (r *reporter) BotRuns(ctx context.Context, name string, limit int) ([]*domain.BotRun, error) {
	if len(r.byName) > 0 {
		if _, ok := r.byName[name]; !ok {
			return nil, apperrors.NewNotFoundError("bot " + name)
		}
	}

	runs, err := r.storage.GetBotRuns(ctx, name, clampLimit(limit, defaultRunLimit))
	if err != nil {
		return nil, apperrors.NewInternalError("load bot runs", err)
	}
	return runs, nil
}

// WorkUnits lists recorded work units
func (r *reporter) WorkUnits(ctx context.Context, filter domain.WorkUnitFilter) ([]*domain.WorkUnit, error) {
	switch filter.Kind {
	case "", domain.WorkKindIssue, domain.WorkKindPullRequest:
	default:
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("unknown work kind %q", filter.Kind))
	}
	filter.Limit = clampLimit(filter.Limit, defaultWorkLimit)

	units, err := r.storage.GetWorkUnits(ctx, filter)
	if err != nil {
		return nil, apperrors.NewInternalError("load work units", err)
	}
	return units, nil
}

func clampLimit(limit, def int) int {
	switch {
	case limit <= 0:
		return def
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}
