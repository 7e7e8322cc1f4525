package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loomery/backlog/backoff"
	"github.com/loomery/backlog/job"
	"github.com/loomery/backlog/middleware"
	"github.com/loomery/backlog/queue"
	"github.com/loomery/backlog/store/memory"
	"github.com/loomery/backlog/worker"
)

func poolRegistry() *job.Registry {
	return job.NewRegistry(
		job.Type{
			Name: "thumbnail.create",
			Schema: job.Schema{
				Required: []string{"assetId"},
				Fields:   map[string]job.Kind{"assetId": job.KindString},
			},
			Policy: job.Policy{MaxAttempts: 3, LeaseDuration: 30 * time.Second},
		},
		job.Type{
			Name: "pdf.render",
			Schema: job.Schema{
				Required: []string{"templateId"},
				Fields:   map[string]job.Kind{"templateId": job.KindString},
			},
			Policy: job.Policy{MaxAttempts: 2, LeaseDuration: 30 * time.Second, ConcurrencyLimit: 1},
		},
	)
}

func setupTestPool(t *testing.T, handlers *worker.Handlers, concurrency int) (*worker.Pool, *queue.Service) {
	t.Helper()
	logger := slog.Default()
	reg := poolRegistry()

	svc := queue.New(reg, memory.New(),
		queue.WithBackoff(backoff.NewExponentialJitter(10*time.Millisecond, 25)),
	)

	executor := worker.NewExecutor(svc, handlers, logger,
		middleware.Recover(logger),
	)

	pool := worker.NewPool(svc, executor, logger,
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithPoolLimits(worker.NewLimits(reg)),
	)
	return pool, svc
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _ := setupTestPool(t, worker.NewHandlers(), 2)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	handlers := worker.NewHandlers()

	var processed atomic.Bool
	worker.Handle(handlers, "thumbnail.create", func(_ context.Context, _ *job.Job, p struct{ AssetID string }) (map[string]any, error) {
		if p.AssetID != "asset_7" {
			t.Errorf("payload.AssetID = %q, want %q", p.AssetID, "asset_7")
		}
		processed.Store(true)
		return map[string]any{"thumbKey": "thumbs/asset_7.png"}, nil
	})

	pool, svc := setupTestPool(t, handlers, 1)

	enq, err := svc.Enqueue(context.Background(), "thumbnail.create", map[string]any{"assetId": "asset_7"})
	if err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, processed.Load)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	got, err := svc.GetJob(context.Background(), enq.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.Status != job.StatusSucceeded {
		t.Errorf("status = %q, want %q", got.Status, job.StatusSucceeded)
	}
	if len(got.Result) == 0 {
		t.Error("expected result to be stored")
	}
}

func TestPool_FailingJobRetriesToDLQ(t *testing.T) {
	handlers := worker.NewHandlers()

	var attempts atomic.Int32
	handlers.Handle("pdf.render", func(_ context.Context, _ *job.Job) (map[string]any, error) {
		attempts.Add(1)
		return nil, errors.New("template missing")
	})

	pool, svc := setupTestPool(t, handlers, 1)

	enq, err := svc.Enqueue(context.Background(), "pdf.render", map[string]any{"templateId": "tpl_9"})
	if err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	// Policy allows 2 attempts; both must run, then the job dead-letters.
	waitFor(t, func() bool {
		got, gerr := svc.GetJob(context.Background(), enq.ID)
		return gerr == nil && got.Status == job.StatusDLQ
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if got := attempts.Load(); got != 2 {
		t.Errorf("handler ran %d times, want 2", got)
	}
	final, err := svc.GetJob(context.Background(), enq.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if final.LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestPool_PanickingHandlerIsAFailure(t *testing.T) {
	handlers := worker.NewHandlers()
	handlers.Handle("thumbnail.create", func(_ context.Context, _ *job.Job) (map[string]any, error) {
		panic("resize library crashed")
	})

	pool, svc := setupTestPool(t, handlers, 1)

	enq, err := svc.Enqueue(context.Background(), "thumbnail.create",
		map[string]any{"assetId": "asset_1"}, job.WithMaxAttempts(1))
	if err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool {
		got, gerr := svc.GetJob(context.Background(), enq.ID)
		return gerr == nil && got.Status == job.StatusDLQ
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_UnregisteredTypeGoesToRetryPath(t *testing.T) {
	// No handler for thumbnail.create: each lease reports failure and
	// the job eventually dead-letters instead of spinning forever.
	pool, svc := setupTestPool(t, worker.NewHandlers(), 1)

	enq, err := svc.Enqueue(context.Background(), "thumbnail.create",
		map[string]any{"assetId": "asset_1"}, job.WithMaxAttempts(1))
	if err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool {
		got, gerr := svc.GetJob(context.Background(), enq.ID)
		return gerr == nil && got.Status == job.StatusDLQ
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, _ := setupTestPool(t, worker.NewHandlers(), 4)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Allow workers to start polling.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("graceful shutdown failed: %v", err)
	}
}
