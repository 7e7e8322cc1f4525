// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware and reports the
// outcome back to the queue, and a Pool that manages concurrent worker
// goroutines polling for work.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loomery/backlog"
	"github.com/loomery/backlog/id"
	"github.com/loomery/backlog/job"
	"github.com/loomery/backlog/middleware"
	"github.com/loomery/backlog/queue"
)

// Queue is the slice of the queue service the worker needs: claiming
// work and reporting outcomes.
type Queue interface {
	Lease(ctx context.Context, workerID string, opts ...queue.LeaseOption) ([]*job.Job, error)
	ReportSuccess(ctx context.Context, jobID id.JobID, workerID string, result map[string]any) (*job.Job, error)
	ReportFailure(ctx context.Context, jobID id.JobID, workerID string, jobErr string) (*job.Job, error)
}

// Executor runs a single leased job through middleware and the
// registered handler, then reports success or failure. Retry and
// dead-letter decisions belong to the queue service; the executor only
// relays the handler's outcome.
type Executor struct {
	queue    Queue
	handlers *Handlers
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(q Queue, handlers *Handlers, logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	return &Executor{
		queue:    q,
		handlers: handlers,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs the job and reports the outcome under workerID's lease.
// A missing handler is reported as a failure so the job retries — the
// handler may be registered on another worker or a later deploy.
//
// A report rejected with backlog.ErrJobNotLeased means the lease
// expired mid-execution and another worker took over; the outcome is
// dropped and the error swallowed, since the reclaiming worker owns
// the job now.
func (e *Executor) Execute(ctx context.Context, workerID string, j *job.Job) error {
	fn, ok := e.handlers.Lookup(j.Type)
	if !ok {
		e.logger.Warn("no handler registered",
			slog.String("job_type", j.Type),
			slog.String("job_id", j.ID.String()),
		)
		return e.reportFailure(ctx, workerID, j, "no handler registered for type "+j.Type)
	}

	var result map[string]any
	terminal := func(ctx context.Context) error {
		var err error
		result, err = fn(ctx, j)
		return err
	}

	if err := e.mw(ctx, j, terminal); err != nil {
		return e.reportFailure(ctx, workerID, j, err.Error())
	}

	_, err := e.queue.ReportSuccess(ctx, j.ID, workerID, result)
	if errors.Is(err, backlog.ErrJobNotLeased) {
		e.logStaleLease(j, "success")
		return nil
	}
	return err
}

func (e *Executor) reportFailure(ctx context.Context, workerID string, j *job.Job, msg string) error {
	_, err := e.queue.ReportFailure(ctx, j.ID, workerID, msg)
	if errors.Is(err, backlog.ErrJobNotLeased) {
		e.logStaleLease(j, "failure")
		return nil
	}
	return err
}

func (e *Executor) logStaleLease(j *job.Job, outcome string) {
	e.logger.Warn("report dropped, lease no longer held",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("outcome", outcome),
	)
}
