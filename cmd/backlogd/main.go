// Command backlogd serves the queue's HTTP API and runs the recurring
// producers: the daily audit snapshot enqueue and the succeeded-job
// retention purge.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loomery/backlog"
	"github.com/loomery/backlog/api"
	"github.com/loomery/backlog/backoff"
	"github.com/loomery/backlog/cron"
	"github.com/loomery/backlog/marketplace"
	"github.com/loomery/backlog/queue"
	"github.com/loomery/backlog/store"
	"github.com/loomery/backlog/store/memory"
	"github.com/loomery/backlog/store/mongo"
	"github.com/loomery/backlog/store/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("backlogd exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := backlog.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("store close failed", slog.String("error", closeErr.Error()))
		}
	}()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	svc := queue.New(marketplace.NewRegistry(), st,
		queue.WithLogger(logger),
		queue.WithBackoff(backoff.NewExponentialJitter(cfg.BackoffBase, cfg.BackoffMaxAttempts)),
		queue.WithDefaultPriority(cfg.DefaultPriority),
		queue.WithDefaultMaxAttempts(cfg.DefaultMaxAttempts),
		queue.WithDefaultLeaseDuration(cfg.DefaultLeaseDuration),
	)

	sched := cron.NewScheduler(svc.Enqueue, logger)
	if err := sched.AddJob("audit-snapshot-daily", "15 2 * * *",
		marketplace.TypeAuditSnapshot, map[string]any{"scope": "daily"}); err != nil {
		return err
	}
	if err := sched.AddFunc("purge-succeeded", "@every 1h", func(ctx context.Context) error {
		removed, purgeErr := st.PurgeSucceeded(ctx, time.Now().UTC().Add(-cfg.SucceededRetention))
		if purgeErr != nil {
			return purgeErr
		}
		if removed > 0 {
			logger.Info("purged succeeded jobs", slog.Int64("removed", removed))
		}
		return nil
	}); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	a := api.New(svc,
		api.WithLogger(logger),
		api.WithScheduler(sched),
		api.WithHealthCheck(st.Ping),
	)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http api listening", slog.String("addr", cfg.Addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler stop failed", slog.String("error", err.Error()))
	}

	logger.Info("backlogd stopped")
	return nil
}

func openStore(ctx context.Context, cfg backlog.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "mongo":
		return mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, mongo.WithLogger(logger))
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, errors.New("BACKLOG_POSTGRES_DSN is required for the postgres driver")
		}
		return postgres.Connect(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
