package storage

import (
	"context"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
)

// Storage is the abstract interface for the persistence layer
type Storage interface {
	// Work unit operations
	SaveWorkUnits(ctx context.Context, units []*domain.WorkUnit) error
	GetWorkUnits(ctx context.Context, filter domain.WorkUnitFilter) ([]*domain.WorkUnit, error)

	// Bot run operations. A zero limit returns every run.
	SaveBotRun(ctx context.Context, run *domain.BotRun) error
	GetBotRuns(ctx context.Context, bot string, limit int) ([]*domain.BotRun, error)

	// Migration
	Migrate(ctx context.Context) error

	// Close
	Close() error
}
