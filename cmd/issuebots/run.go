package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/issue-watch-bots/internal/api"
	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	"github.com/kurihiro0119/issue-watch-bots/internal/logging"
	"github.com/kurihiro0119/issue-watch-bots/internal/metrics"
	"github.com/kurihiro0119/issue-watch-bots/internal/scheduler"
	"github.com/kurihiro0119/issue-watch-bots/internal/status"
	"github.com/kurihiro0119/issue-watch-bots/internal/storage"
)

var (
	runOnce   bool
	runDryRun bool
	runNoAPI  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bots",
	Long: `Compose the configured bots and poll them every POLL_INTERVAL until
interrupted. Work units and bot runs are recorded in storage, and the status
API is served on API_HOST:API_PORT.`,
	Args: cobra.NoArgs,
	RunE: runBots,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single round and exit")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "log work units instead of storing them")
	runCmd.Flags().BoolVar(&runNoAPI, "no-api", false, "do not serve the status API")
}

// logSink logs work units instead of storing them
type logSink struct {
	logger logging.Logger
}

func (s logSink) Deliver(_ context.Context, units []*domain.WorkUnit) error {
	for _, u := range units {
		s.logger.Info("work unit",
			"kind", u.Kind,
			"bot", u.Bot,
			"entity", u.EntityID,
			"updated_at", u.EntityUpdatedAt,
			"title", u.Title)
	}
	return nil
}

func (s logSink) RecordRun(context.Context, *domain.BotRun) error {
	return nil
}

func runBots(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg)

	bots, err := composeBots(cfg, logger)
	if err != nil {
		return fmt.Errorf("invalid bot configuration: %w", err)
	}
	logger.Info("bots composed", "bot", cfg.BotName, "count", len(bots))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewPrometheus(reg, "")
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	var sink scheduler.WorkSink
	var store storage.Storage
	if runDryRun {
		sink = logSink{logger: logger}
	} else {
		store, err = getStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()
		sink = storage.NewSink(store)
	}

	runner, err := scheduler.New(bots, sink,
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(rec),
		scheduler.WithInterval(cfg.PollInterval),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runOnce {
		result, err := runner.RunRound(ctx)
		if err != nil {
			return err
		}
		logger.Info("single round done", "emitted", result.Emitted, "failed", result.Failed)
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(ctx)
	})

	if !runNoAPI && store != nil {
		handler := api.NewHandler(status.NewReporter(bots, store), logger)
		srv := &http.Server{
			Addr:              fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort),
			Handler:           api.SetupRoutes(handler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting API server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("API server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
