package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
)

// Phase orders bots within one poll round. Every detector bot of a round
// finishes before any dependent bot starts.
type Phase int

const (
	PhaseDetector Phase = iota
	PhaseDependent
)

func (p Phase) String() string {
	switch p {
	case PhaseDetector:
		return "detector"
	case PhaseDependent:
		return "dependent"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Bot is a periodic work producer driven by the scheduler
type Bot interface {
	// Name is the stable identity used for logs, metrics and storage
	Name() string

	// Phase tells the scheduler when in a round the bot runs
	Phase() Phase

	// PeriodicWork is called once per poll tick. It must be safe to call
	// forever and never concurrently with itself.
	PeriodicWork(ctx context.Context) ([]*domain.WorkUnit, error)
}

// Snapshot describes a bot's live state for status reporting
type Snapshot struct {
	Name          string
	Phase         Phase
	Tracker       string
	Repositories  []string
	Initialized   bool
	HighWaterMark time.Time
	LastSeen      int
}

// Inspector is implemented by bots that can report their live state
type Inspector interface {
	Snapshot() Snapshot
}

// ValidateOrder checks that no detector bot follows a dependent bot
func ValidateOrder(bots []Bot) error {
	seenDependent := false
	for i, b := range bots {
		switch b.Phase() {
		case PhaseDependent:
			seenDependent = true
		case PhaseDetector:
			if seenDependent {
				return apperrors.NewConfigError(fmt.Sprintf("detector bot %s at position %d follows a dependent bot", b.Name(), i))
			}
		default:
			return apperrors.NewConfigError(fmt.Sprintf("bot %s has unknown %s", b.Name(), b.Phase()))
		}
	}
	return nil
}

// Split returns the detector and dependent bots, each in their given order
func Split(bots []Bot) (detectors, dependents []Bot) {
	for _, b := range bots {
		if b.Phase() == PhaseDetector {
			detectors = append(detectors, b)
		} else {
			dependents = append(dependents, b)
		}
	}
	return detectors, dependents
}
