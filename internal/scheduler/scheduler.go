// Package scheduler drives a composed bot set. Each round runs every detector
// bot, waits for all of them, then runs every dependent bot. Bots within a
// phase run concurrently; a bot is never invoked concurrently with itself.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/issue-watch-bots/internal/bot"
	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	apperrors "github.com/kurihiro0119/issue-watch-bots/internal/errors"
	"github.com/kurihiro0119/issue-watch-bots/internal/logging"
	"github.com/kurihiro0119/issue-watch-bots/internal/metrics"
)

// WorkSink receives the output of a round
type WorkSink interface {
	// Deliver is called once per bot invocation that emitted work, in bot
	// order
	Deliver(ctx context.Context, units []*domain.WorkUnit) error

	// RecordRun is called once per bot invocation
	RecordRun(ctx context.Context, run *domain.BotRun) error
}

// RoundResult summarises one round
type RoundResult struct {
	Round     int
	StartedAt time.Time
	Duration  time.Duration
	Runs      []*domain.BotRun
	Emitted   int
	Failed    int
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the runner's logger
func WithLogger(logger logging.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(rec metrics.Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.metrics = rec
		}
	}
}

// WithInterval sets the time between rounds started by Run
func WithInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithConcurrency caps the number of bots running at once within a phase.
// Zero means no cap.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		r.concurrency = n
	}
}

// Runner runs poll rounds over a fixed bot set
type Runner struct {
	bots        []bot.Bot
	detectors   []bot.Bot
	dependents  []bot.Bot
	sink        WorkSink
	logger      logging.Logger
	metrics     metrics.Recorder
	interval    time.Duration
	concurrency int

	mu    sync.Mutex // held for the duration of a round
	round int
}

// New creates a runner. The bot list must already be phase ordered.
func New(bots []bot.Bot, sink WorkSink, opts ...Option) (*Runner, error) {
	if sink == nil {
		return nil, apperrors.NewConfigError("scheduler: sink is required")
	}
	if err := bot.ValidateOrder(bots); err != nil {
		return nil, err
	}

	r := &Runner{
		bots:     bots,
		sink:     sink,
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
		interval: time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.detectors, r.dependents = bot.Split(bots)
	return r, nil
}

// Bots returns the bot set in run order
func (r *Runner) Bots() []bot.Bot {
	return r.bots
}

// Interval returns the time between rounds
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// RunRound runs one detector phase followed by one dependent phase. Bot
// failures are recorded in the result and never abort the round. The
// returned error reports a cancelled context or sink failures.
func (r *Runner) RunRound(ctx context.Context) (RoundResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.round++
	result := RoundResult{Round: r.round, StartedAt: time.Now()}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	var sinkErrs []error
	for _, phase := range []struct {
		kind bot.Phase
		bots []bot.Bot
	}{
		{bot.PhaseDetector, r.detectors},
		{bot.PhaseDependent, r.dependents},
	} {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(result.StartedAt)
			return result, err
		}
		outcomes := r.runPhase(ctx, phase.kind, phase.bots)
		for _, o := range outcomes {
			result.Runs = append(result.Runs, o.run)
			result.Emitted += o.run.Emitted
			if o.run.Failed() {
				result.Failed++
			}
			if len(o.units) > 0 {
				if err := r.sink.Deliver(ctx, o.units); err != nil {
					r.logger.Error("failed to deliver work units", "bot", o.run.Bot, "units", len(o.units), "error", err)
					sinkErrs = append(sinkErrs, fmt.Errorf("deliver %s: %w", o.run.Bot, err))
				}
			}
			if err := r.sink.RecordRun(ctx, o.run); err != nil {
				r.logger.Warn("failed to record bot run", "bot", o.run.Bot, "error", err)
			}
		}
	}

	result.Duration = time.Since(result.StartedAt)
	r.logger.Info("round complete",
		"round", result.Round,
		"bots", len(result.Runs),
		"emitted", result.Emitted,
		"failed", result.Failed,
		"duration", result.Duration)
	return result, errors.Join(sinkErrs...)
}

type outcome struct {
	run   *domain.BotRun
	units []*domain.WorkUnit
}

func (r *Runner) runPhase(ctx context.Context, phase bot.Phase, bots []bot.Bot) []outcome {
	outcomes := make([]outcome, len(bots))

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, b := range bots {
		i, b := i, b
		g.Go(func() error {
			outcomes[i] = r.invoke(ctx, phase, b)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (r *Runner) invoke(ctx context.Context, phase bot.Phase, b bot.Bot) outcome {
	run := domain.NewBotRun(b.Name(), phase.String(), time.Now())
	units, err := b.PeriodicWork(ctx)
	run.Duration = time.Since(run.StartedAt)

	result := "ok"
	if err != nil {
		units = nil
		run.Error = err.Error()
		result = string(apperrors.CodeOf(err))
		switch {
		case ctx.Err() != nil:
			r.logger.Info("bot interrupted", "bot", b.Name(), "phase", phase.String(), "error", err)
		case apperrors.IsTransient(err):
			r.logger.Warn("bot failed, retrying next round", "bot", b.Name(), "phase", phase.String(), "code", result, "error", err)
		default:
			r.logger.Error("bot failed", "bot", b.Name(), "phase", phase.String(), "code", result, "error", err)
		}
	} else {
		run.Emitted = len(units)
		r.logger.Debug("bot ran", "bot", b.Name(), "phase", phase.String(), "emitted", run.Emitted, "duration", run.Duration)
	}

	r.metrics.RecordPoll(b.Name(), result, run.Duration)
	r.metrics.RecordWorkUnits(b.Name(), run.Emitted)
	if insp, ok := b.(bot.Inspector); ok && phase == bot.PhaseDetector {
		snap := insp.Snapshot()
		r.metrics.SetDetectorState(b.Name(), snap.HighWaterMark, snap.LastSeen)
	}

	return outcome{run: run, units: units}
}

// Run runs a round immediately and then one per interval until ctx is
// cancelled. Round errors are logged and do not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("scheduler starting", "bots", len(r.bots), "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunRound(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("round failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
