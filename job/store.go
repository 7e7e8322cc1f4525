package job

import (
	"context"
	"time"

	"github.com/loomery/backlog/id"
)

// ClaimQuery describes one atomic claim attempt. A job matches when it
// is queued, or leased with an expired lease, and its NextRunAt has
// passed; among matches the highest priority wins, earliest NextRunAt
// breaking ties.
type ClaimQuery struct {
	// WorkerID is recorded as the lease holder.
	WorkerID string

	// Type restricts the claim to one job type. Empty matches all.
	Type string

	// Now is the instant used for eligibility and expiry comparisons.
	Now time.Time

	// LeaseExpiresAt is the expiry written onto the claimed job.
	LeaseExpiresAt time.Time
}

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Type filters by job type. Empty means all types.
	Type string
	// Status filters by status. Empty means all statuses.
	Status Status
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Type filters by job type. Empty means all types.
	Type string
	// Status filters by status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for jobs. Every mutation that
// participates in cross-worker coordination is a single atomic
// conditional update: match a predicate including the current state,
// apply the mutation, return the updated job or report that nothing
// matched. Implementations never expose read-then-unconditional-write
// for these transitions.
type Store interface {
	// CreateJob persists a new job. Returns backlog.ErrJobAlreadyExists
	// if the ID is already present.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. Returns backlog.ErrJobNotFound if
	// absent.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ClaimOne atomically claims the single best-matching job: sets
	// status to leased, records the worker and lease expiry, and
	// increments the attempt counter, all in one conditional update.
	// Returns backlog.ErrNoJobAvailable when nothing matches. This is
	// the sole mechanism preventing two workers from claiming the same
	// job.
	ClaimOne(ctx context.Context, q ClaimQuery) (*Job, error)

	// CompleteJob transitions a job to succeeded, conditional on it
	// being leased by workerID. Stores the result and clears the lease
	// fields. Returns backlog.ErrJobNotLeased when the condition does
	// not hold.
	CompleteJob(ctx context.Context, jobID id.JobID, workerID string, result []byte) (*Job, error)

	// RescheduleJob transitions a failed job back to queued with a
	// future NextRunAt, conditional on it being leased by workerID.
	// Records lastError and clears the lease fields. Returns
	// backlog.ErrJobNotLeased when the condition does not hold.
	RescheduleJob(ctx context.Context, jobID id.JobID, workerID string, nextRunAt time.Time, lastError string) (*Job, error)

	// DeadLetterJob transitions a job to dlq, conditional on it being
	// leased by workerID. Records lastError and clears the lease
	// fields. Returns backlog.ErrJobNotLeased when the condition does
	// not hold.
	DeadLetterJob(ctx context.Context, jobID id.JobID, workerID string, lastError string) (*Job, error)

	// ListJobs returns jobs matching the given options, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// PurgeSucceeded removes succeeded jobs whose UpdatedAt is before
	// the given time and returns how many were removed. Dead-lettered
	// jobs are never purged; they require manual intervention.
	PurgeSucceeded(ctx context.Context, before time.Time) (int64, error)
}
