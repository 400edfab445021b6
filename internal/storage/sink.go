package storage

import (
	"context"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
)

// Sink hands scheduler output to a Storage
type Sink struct {
	store Storage
}

// NewSink creates a sink writing to store
func NewSink(store Storage) *Sink {
	return &Sink{store: store}
}

// Deliver persists the work units emitted by one bot invocation
func (s *Sink) Deliver(ctx context.Context, units []*domain.WorkUnit) error {
	if len(units) == 0 {
		return nil
	}
	return s.store.SaveWorkUnits(ctx, units)
}

// RecordRun persists a bot run record
func (s *Sink) RecordRun(ctx context.Context, run *domain.BotRun) error {
	return s.store.SaveBotRun(ctx, run)
}
