// Package queue implements the job queue service: enqueue, lease,
// report-success, and report-failure. It orchestrates the static type
// registry, the backoff calculator, and the job store; all cross-worker
// coordination is delegated to the store's atomic conditional updates.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomery/backlog"
	"github.com/loomery/backlog/backoff"
	"github.com/loomery/backlog/id"
	"github.com/loomery/backlog/job"
)

// Lease batch bounds. Requested limits outside this range are clamped.
const (
	MinLeaseLimit = 1
	MaxLeaseLimit = 10
)

// Service is the queue orchestrator. Each public operation is a
// short-lived independent request issuing one or more store operations;
// the Service holds no job state and needs no internal locking, so any
// number of producers and workers may call it concurrently.
type Service struct {
	registry *job.Registry
	store    job.Store
	backoff  backoff.Strategy
	logger   *slog.Logger

	// now is injectable for tests.
	now func() time.Time

	defaultPriority      int
	defaultMaxAttempts   int
	defaultLeaseDuration time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Service) { s.backoff = b }
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaultPriority sets the priority assigned when the producer
// does not specify one.
func WithDefaultPriority(p int) Option {
	return func(s *Service) { s.defaultPriority = job.ClampPriority(p) }
}

// WithDefaultMaxAttempts sets the attempt ceiling used when neither
// the producer nor the type policy provides one.
func WithDefaultMaxAttempts(n int) Option {
	return func(s *Service) { s.defaultMaxAttempts = job.ClampMaxAttempts(n) }
}

// WithDefaultLeaseDuration sets the lease duration used when neither
// the lease call nor the type policy provides one.
func WithDefaultLeaseDuration(d time.Duration) Option {
	return func(s *Service) { s.defaultLeaseDuration = d }
}

// New creates a queue Service over the given registry and store.
func New(registry *job.Registry, store job.Store, opts ...Option) *Service {
	cfg := backlog.DefaultConfig()
	s := &Service{
		registry:             registry,
		store:                store,
		logger:               slog.Default(),
		now:                  func() time.Time { return time.Now().UTC() },
		defaultPriority:      cfg.DefaultPriority,
		defaultMaxAttempts:   cfg.DefaultMaxAttempts,
		defaultLeaseDuration: cfg.DefaultLeaseDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backoff == nil {
		s.backoff = backoff.NewExponentialJitter(cfg.BackoffBase, cfg.BackoffMaxAttempts)
	}
	return s
}

// Enqueue validates payload against the registry and writes a new
// queued job. Validation failures abort with no write: the caller gets
// backlog.ErrUnknownJobType or a *job.ValidationError carrying every
// violation at once.
func (s *Service) Enqueue(ctx context.Context, typeName string, payload map[string]any, opts ...job.Option) (*job.Job, error) {
	if err := s.registry.ValidatePayload(typeName, payload); err != nil {
		return nil, err
	}
	policy, err := s.registry.PolicyFor(typeName)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal payload for type %q: %w", typeName, err)
	}

	var o job.Options
	for _, opt := range opts {
		opt(&o)
	}

	now := s.now()

	priority := s.defaultPriority
	if o.Priority != nil {
		priority = job.ClampPriority(*o.Priority)
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaultMaxAttempts
	}
	if o.MaxAttempts != nil {
		maxAttempts = job.ClampMaxAttempts(*o.MaxAttempts)
	}

	nextRunAt := now
	if !o.ScheduleAt.IsZero() {
		nextRunAt = o.ScheduleAt.UTC()
	}

	j := &job.Job{
		ID:          id.NewJobID(),
		Type:        typeName,
		Payload:     raw,
		Priority:    priority,
		Status:      job.StatusQueued,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		NextRunAt:   nextRunAt,
		CreatedBy:   o.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	s.logger.Info("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("priority", j.Priority),
		slog.Time("next_run_at", j.NextRunAt),
	)
	return j, nil
}

// LeaseOptions configures a Lease call.
type LeaseOptions struct {
	// Type restricts leasing to one job type. Empty matches all.
	Type string

	// Limit is the maximum number of jobs to claim, clamped to
	// [MinLeaseLimit, MaxLeaseLimit]. Defaults to 1.
	Limit int

	// Duration overrides the lease duration. Zero falls back to the
	// type policy, then the service default.
	Duration time.Duration
}

// LeaseOption is a functional option for Lease.
type LeaseOption func(*LeaseOptions)

// ForType restricts the lease to jobs of the given type.
func ForType(typeName string) LeaseOption {
	return func(o *LeaseOptions) { o.Type = typeName }
}

// WithLimit sets the maximum batch size, clamped to
// [MinLeaseLimit, MaxLeaseLimit].
func WithLimit(n int) LeaseOption {
	return func(o *LeaseOptions) { o.Limit = n }
}

// WithLeaseDuration overrides the lease duration for this call.
func WithLeaseDuration(d time.Duration) LeaseOption {
	return func(o *LeaseOptions) { o.Duration = d }
}

// Lease claims up to the requested number of eligible jobs for the
// worker. Jobs are claimed one at a time through the store's atomic
// primitive; the loop stops early when no more work matches. An empty
// result is a normal "nothing to do" outcome, not an error.
//
// Claimed jobs whose incremented attempt counter exceeds their own
// ceiling (possible only when an expired lease is reclaimed on a job
// that was already at its last attempt) are dead-lettered immediately
// instead of being handed to the worker, preserving the
// attempt <= maxAttempts invariant for every job a handler ever sees.
func (s *Service) Lease(ctx context.Context, workerID string, opts ...LeaseOption) ([]*job.Job, error) {
	if workerID == "" {
		return nil, fmt.Errorf("queue: lease: %w", errEmptyWorkerID)
	}

	o := LeaseOptions{Limit: 1}
	for _, opt := range opts {
		opt(&o)
	}
	limit := clampLeaseLimit(o.Limit)

	duration := o.Duration
	if duration <= 0 && o.Type != "" {
		if policy, err := s.registry.PolicyFor(o.Type); err != nil {
			return nil, err
		} else if policy.LeaseDuration > 0 {
			duration = policy.LeaseDuration
		}
	}
	if duration <= 0 {
		duration = s.defaultLeaseDuration
	}

	leased := make([]*job.Job, 0, limit)
	for len(leased) < limit {
		now := s.now()
		claimed, err := s.store.ClaimOne(ctx, job.ClaimQuery{
			WorkerID:       workerID,
			Type:           o.Type,
			Now:            now,
			LeaseExpiresAt: now.Add(duration),
		})
		if errors.Is(err, backlog.ErrNoJobAvailable) {
			break
		}
		if err != nil {
			return leased, err
		}

		if claimed.Attempt > claimed.MaxAttempts {
			// Reclaimed with its retry budget already spent.
			if _, dlErr := s.store.DeadLetterJob(ctx, claimed.ID, workerID, "lease attempts exhausted"); dlErr != nil {
				s.logger.Error("failed to dead-letter exhausted job",
					slog.String("job_id", claimed.ID.String()),
					slog.String("error", dlErr.Error()),
				)
			}
			s.logger.Warn("job dead-lettered at lease time",
				slog.String("job_id", claimed.ID.String()),
				slog.String("job_type", claimed.Type),
				slog.Int("attempt", claimed.Attempt),
				slog.Int("max_attempts", claimed.MaxAttempts),
			)
			continue
		}

		leased = append(leased, claimed)
	}

	if len(leased) > 0 {
		s.logger.Debug("jobs leased",
			slog.String("worker_id", workerID),
			slog.Int("count", len(leased)),
		)
	}
	return leased, nil
}

// ReportSuccess transitions a leased job to succeeded and stores the
// handler's result. It fails with backlog.ErrJobNotLeased if the worker
// no longer holds the lease; the caller must simply abandon the report.
func (s *Service) ReportSuccess(ctx context.Context, jobID id.JobID, workerID string, result map[string]any) (*job.Job, error) {
	var raw []byte
	if result != nil {
		var err error
		raw, err = json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("queue: marshal result for job %s: %w", jobID, err)
		}
	}

	j, err := s.store.CompleteJob(ctx, jobID, workerID, raw)
	if err != nil {
		return nil, err
	}

	s.logger.Info("job succeeded",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.Attempt),
	)
	return j, nil
}

// ReportFailure records a handler failure and decides the job's next
// state: a retry with a backoff-delayed NextRunAt while the job's own
// attempt ceiling permits, dlq otherwise. The backoff calculator's own
// hard ceiling acts as a fallback safety net that also dead-letters.
// The write is conditioned on the worker still holding the lease.
func (s *Service) ReportFailure(ctx context.Context, jobID id.JobID, workerID string, jobErr string) (*job.Job, error) {
	// The next-state decision compares the attempt counters, so a read
	// precedes the conditional write. The write's lease condition still
	// guards against the job changing hands in between.
	current, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, backlog.ErrJobNotFound) {
			return nil, backlog.ErrJobNotLeased
		}
		return nil, err
	}

	if current.Attempt >= current.MaxAttempts {
		return s.deadLetter(ctx, jobID, workerID, jobErr, "retry budget exhausted")
	}

	delay, delayErr := s.backoff.DelayFor(current.Attempt + 1)
	if delayErr != nil {
		if errors.Is(delayErr, backoff.ErrAttemptsExhausted) {
			return s.deadLetter(ctx, jobID, workerID, jobErr, "backoff ceiling reached")
		}
		return nil, delayErr
	}

	j, err := s.store.RescheduleJob(ctx, jobID, workerID, s.now().Add(delay), jobErr)
	if err != nil {
		return nil, err
	}

	s.logger.Info("job rescheduled",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.Attempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", jobErr),
	)
	return j, nil
}

func (s *Service) deadLetter(ctx context.Context, jobID id.JobID, workerID, jobErr, reason string) (*job.Job, error) {
	j, err := s.store.DeadLetterJob(ctx, jobID, workerID, jobErr)
	if err != nil {
		return nil, err
	}

	s.logger.Warn("job dead-lettered",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.Attempt),
		slog.String("reason", reason),
		slog.String("error", jobErr),
	)
	return j, nil
}

// GetJob returns a job by ID.
func (s *Service) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching the given options.
func (s *Service) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return s.store.ListJobs(ctx, opts)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Service) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	return s.store.CountJobs(ctx, opts)
}

// TypeNames returns the registered job type names.
func (s *Service) TypeNames() []string {
	return s.registry.Names()
}

var errEmptyWorkerID = errors.New("worker id must not be empty")

func clampLeaseLimit(n int) int {
	if n < MinLeaseLimit {
		return MinLeaseLimit
	}
	if n > MaxLeaseLimit {
		return MaxLeaseLimit
	}
	return n
}
