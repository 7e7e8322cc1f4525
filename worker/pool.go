package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loomery/backlog/id"
	"github.com/loomery/backlog/queue"
)

// Pool manages a set of concurrent worker goroutines that lease jobs
// from the queue and execute them through the Executor. All goroutines
// share one worker identity, so every lease and report carries the
// same workerID.
type Pool struct {
	queue    Queue
	executor *Executor
	limits   *Limits
	logger   *slog.Logger

	concurrency  int
	types        []string
	pollInterval time.Duration
	workerID     id.WorkerID

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolTypes restricts the pool to the given job types. Each poll
// cycles through them; an empty list leases any type.
func WithPoolTypes(types ...string) PoolOption {
	return func(p *Pool) { p.types = types }
}

// WithPollInterval sets how long a goroutine sleeps after finding no work.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithPoolLimits attaches per-type execution limits.
func WithPoolLimits(l *Limits) PoolOption {
	return func(p *Pool) { p.limits = l }
}

// WithPoolWorkerID sets a fixed worker identity instead of a generated one.
func WithPoolWorkerID(workerID id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// NewPool creates a worker pool.
func NewPool(q Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:        q,
		executor:     executor,
		logger:       logger,
		concurrency:  8,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's worker identity.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("types", p.types),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.leaseLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time
// runs out; their handlers see a cancelled context and report whatever
// outcome they can before the lease lapses.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// leaseLoop is run by each worker goroutine.
func (p *Pool) leaseLoop() {
	defer p.wg.Done()

	typeIdx := 0
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		opts := []queue.LeaseOption{queue.WithLimit(1)}
		if len(p.types) > 0 {
			opts = append(opts, queue.ForType(p.types[typeIdx%len(p.types)]))
			typeIdx++
		}

		jobs, err := p.queue.Lease(context.Background(), p.workerID.String(), opts...)
		if err != nil {
			p.logger.Error("lease error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(jobs) == 0 {
			if len(p.types) == 0 || typeIdx%len(p.types) == 0 {
				p.sleep()
			}
			continue
		}

		j := jobs[0]

		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(j.ID.String(), cancel)

		if p.limits != nil {
			if acqErr := p.limits.Acquire(ctx, j.Type); acqErr != nil {
				// Shutdown or cancellation while waiting; the lease
				// expires on its own and the job is reclaimed.
				p.untrackJob(j.ID.String())
				cancel()
				continue
			}
		}

		execErr := p.executor.Execute(ctx, p.workerID.String(), j)
		if execErr != nil {
			p.logger.Error("job execution error",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("error", execErr.Error()),
			)
		}

		if p.limits != nil {
			p.limits.Release(j.Type)
		}
		p.untrackJob(j.ID.String())
		cancel()
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
