// Package memory provides a fully in-memory Store. Safe for concurrent
// access. Intended for unit testing and development; claim semantics
// match the durable backends exactly so the queue service can be tested
// against it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loomery/backlog"
	"github.com/loomery/backlog/id"
	"github.com/loomery/backlog/job"
	"github.com/loomery/backlog/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a mutex-guarded in-memory implementation of store.Store.
// The single mutex makes every operation atomic, which is the same
// guarantee the durable backends get from FindOneAndUpdate / SKIP
// LOCKED.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return backlog.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, backlog.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ClaimOne atomically claims the single best-matching job.
func (m *Store) ClaimOne(_ context.Context, q job.ClaimQuery) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *job.Job
	for _, j := range m.jobs {
		if !claimable(j, q) {
			continue
		}
		if best == nil || betterClaim(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, backlog.ErrNoJobAvailable
	}

	best.Status = job.StatusLeased
	best.WorkerID = q.WorkerID
	exp := q.LeaseExpiresAt
	best.LeaseExpiresAt = &exp
	best.Attempt++
	best.UpdatedAt = q.Now

	// Return a copy so callers can mutate without racing the store.
	cp := *best
	return &cp, nil
}

func claimable(j *job.Job, q job.ClaimQuery) bool {
	if q.Type != "" && j.Type != q.Type {
		return false
	}
	if j.NextRunAt.After(q.Now) {
		return false
	}
	switch j.Status {
	case job.StatusQueued:
		return true
	case job.StatusLeased:
		// An expired lease is abandoned work; any worker may reclaim it.
		return j.LeaseExpiresAt != nil && !j.LeaseExpiresAt.After(q.Now)
	default:
		return false
	}
}

// betterClaim reports whether a should be claimed before b:
// priority DESC, then NextRunAt ASC.
func betterClaim(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.NextRunAt.Before(b.NextRunAt)
}

// CompleteJob transitions a leased job to succeeded.
func (m *Store) CompleteJob(_ context.Context, jobID id.JobID, workerID string, result []byte) (*job.Job, error) {
	return m.transition(jobID, workerID, func(j *job.Job) {
		j.Status = job.StatusSucceeded
		j.Result = result
	})
}

// RescheduleJob transitions a leased job back to queued for a retry.
func (m *Store) RescheduleJob(_ context.Context, jobID id.JobID, workerID string, nextRunAt time.Time, lastError string) (*job.Job, error) {
	return m.transition(jobID, workerID, func(j *job.Job) {
		j.Status = job.StatusQueued
		j.NextRunAt = nextRunAt
		j.LastError = lastError
	})
}

// DeadLetterJob transitions a leased job to dlq.
func (m *Store) DeadLetterJob(_ context.Context, jobID id.JobID, workerID string, lastError string) (*job.Job, error) {
	return m.transition(jobID, workerID, func(j *job.Job) {
		j.Status = job.StatusDLQ
		j.LastError = lastError
	})
}

// transition applies mutate under the jobID+workerID+leased condition,
// clearing the lease fields. This mirrors the conditional updates the
// durable backends express in a single storage operation.
func (m *Store) transition(jobID id.JobID, workerID string, mutate func(*job.Job)) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok || j.Status != job.StatusLeased || j.WorkerID != workerID {
		return nil, backlog.ErrJobNotLeased
	}

	mutate(j)
	j.WorkerID = ""
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now().UTC()

	cp := *j
	return &cp, nil
}

// ListJobs returns jobs matching the given options, newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matches := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		matches = append(matches, j)
	}

	sort.Slice(matches, func(i, k int) bool {
		return matches[i].CreatedAt.After(matches[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matches) {
			return []*job.Job{}, nil
		}
		matches = matches[opts.Offset:]
	}
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	out := make([]*job.Job, len(matches))
	for i, j := range matches {
		cp := *j
		out[i] = &cp
	}
	return out, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, j := range m.jobs {
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		n++
	}
	return n, nil
}

// PurgeSucceeded removes succeeded jobs last updated before the cutoff.
func (m *Store) PurgeSucceeded(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, j := range m.jobs {
		if j.Status == job.StatusSucceeded && j.UpdatedAt.Before(before) {
			delete(m.jobs, key)
			n++
		}
	}
	return n, nil
}
