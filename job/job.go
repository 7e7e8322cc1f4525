package job

import (
	"time"

	"github.com/loomery/backlog/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusQueued means the job is waiting to be leased by a worker.
	StatusQueued Status = "queued"
	// StatusLeased means a worker currently holds a time-bounded
	// exclusive claim on the job.
	StatusLeased Status = "leased"
	// StatusSucceeded means the job finished successfully. Terminal.
	StatusSucceeded Status = "succeeded"
	// StatusDLQ means the job exhausted its retry budget and requires
	// manual attention. Terminal.
	StatusDLQ Status = "dlq"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusDLQ
}

// Job is the unit of deferred work. A job is always in exactly one of
// the four statuses; a failure never becomes a terminal "failed" state,
// it either turns into a future queued retry or a terminal dlq.
type Job struct {
	ID       id.JobID `json:"id"`
	Type     string   `json:"type"`
	Payload  []byte   `json:"payload"`
	Priority int      `json:"priority"`
	Status   Status   `json:"status"`

	// Attempt counts leases granted, not failures reported. It is
	// incremented by the same atomic operation that sets the lease.
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts"`

	// NextRunAt gates leasing: the job is only claimable once
	// now >= NextRunAt.
	NextRunAt time.Time `json:"next_run_at"`

	// WorkerID and LeaseExpiresAt are set while Status is leased and
	// absent otherwise. A leased job whose lease has expired is
	// reclaimable by any worker.
	WorkerID       string     `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	Result    []byte `json:"result,omitempty"`
	LastError string `json:"last_error,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LeaseValid reports whether the job is leased and its lease has not
// expired at the given instant.
func (j *Job) LeaseValid(now time.Time) bool {
	return j.Status == StatusLeased && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(now)
}
