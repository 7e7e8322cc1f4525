// Command worker runs a pool of job executors against the shared
// store. Many worker processes can run side by side; the store's
// conditional updates keep them from stepping on each other.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/loomery/backlog"
	"github.com/loomery/backlog/backoff"
	"github.com/loomery/backlog/id"
	"github.com/loomery/backlog/marketplace"
	"github.com/loomery/backlog/middleware"
	"github.com/loomery/backlog/queue"
	"github.com/loomery/backlog/store"
	"github.com/loomery/backlog/store/memory"
	"github.com/loomery/backlog/store/mongo"
	"github.com/loomery/backlog/store/postgres"
	"github.com/loomery/backlog/worker"
)

// leaseReportMargin is how much lease time is reserved for the outcome
// report after the handler's context is cancelled.
const leaseReportMargin = 5 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker exited with error", slog.String("error", err.Error()))
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

	registry := marketplace.NewRegistry()
	svc := queue.New(registry, st,
		queue.WithLogger(logger),
		queue.WithBackoff(backoff.NewExponentialJitter(cfg.BackoffBase, cfg.BackoffMaxAttempts)),
		queue.WithDefaultLeaseDuration(cfg.DefaultLeaseDuration),
	)

	handlers := worker.NewHandlers()
	marketplace.RegisterHandlers(handlers, logger)

	workerID := id.NewWorkerID()
	workerLogger := logger.With(slog.String("worker_id", workerID.String()))

	executor := worker.NewExecutor(svc, handlers, workerLogger,
		middleware.Logging(workerLogger),
		middleware.Recover(workerLogger),
		middleware.LeaseGuard(workerLogger, leaseReportMargin),
	)

	limits := worker.NewLimits(registry,
		// Chain anchoring is throttled well below the lease budget to
		// stay under the node provider's request cap.
		worker.WithRate(marketplace.TypeChainAnchor, rate.Every(10*time.Second), 1),
	)

	pool := worker.NewPool(svc, executor, workerLogger,
		worker.WithPoolWorkerID(workerID),
		worker.WithPoolConcurrency(cfg.WorkerConcurrency),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithPoolLimits(limits),
	)

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := pool.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop pool: %w", err)
	}

	logger.Info("worker stopped")
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
