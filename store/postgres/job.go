package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loomery/backlog"
	"github.com/loomery/backlog/id"
	"github.com/loomery/backlog/job"
)

const jobColumns = `
	id, type, payload, priority, status, attempt, max_attempts,
	next_run_at, worker_id, lease_expires_at, result, last_error,
	created_by, created_at, updated_at`

// CreateJob persists a new job row.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backlog_jobs (
			id, type, payload, priority, status, attempt, max_attempts,
			next_run_at, worker_id, lease_expires_at, result, last_error,
			created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15
		)`,
		j.ID.String(), j.Type, j.Payload, j.Priority, string(j.Status),
		j.Attempt, j.MaxAttempts,
		j.NextRunAt, j.WorkerID, j.LeaseExpiresAt, j.Result, j.LastError,
		j.CreatedBy, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return backlog.ErrJobAlreadyExists
		}
		return fmt.Errorf("backlog/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM backlog_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrJobNotFound
		}
		return nil, fmt.Errorf("backlog/postgres: get job: %w", err)
	}
	return j, nil
}

// ClaimOne atomically claims the single best-matching job. The CTE
// selects one eligible row under FOR UPDATE SKIP LOCKED so contending
// workers skip rather than block, then the UPDATE sets the lease and
// increments the attempt counter in the same statement.
func (s *Store) ClaimOne(ctx context.Context, q job.ClaimQuery) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		WITH candidate AS (
			SELECT id FROM backlog_jobs
			WHERE next_run_at <= $1
			  AND ($2 = '' OR type = $2)
			  AND (
			       status = 'queued'
			    OR (status = 'leased' AND lease_expires_at <= $1)
			  )
			ORDER BY priority DESC, next_run_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE backlog_jobs
		SET
			status           = 'leased',
			worker_id        = $3,
			lease_expires_at = $4,
			attempt          = attempt + 1,
			updated_at       = $1
		WHERE id IN (SELECT id FROM candidate)
		RETURNING`+jobColumns,
		q.Now, q.Type, q.WorkerID, q.LeaseExpiresAt,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("backlog/postgres: claim job: %w", err)
	}
	return j, nil
}

// CompleteJob transitions a leased job to succeeded, conditional on the
// reporting worker still holding the lease.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, workerID string, result []byte) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE backlog_jobs
		SET
			status           = 'succeeded',
			result           = $3,
			worker_id        = '',
			lease_expires_at = NULL,
			updated_at       = NOW()
		WHERE id = $1 AND worker_id = $2 AND status = 'leased'
		RETURNING`+jobColumns,
		jobID.String(), workerID, result,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrJobNotLeased
		}
		return nil, fmt.Errorf("backlog/postgres: complete job: %w", err)
	}
	return j, nil
}

// RescheduleJob transitions a leased job back to queued for a retry.
func (s *Store) RescheduleJob(ctx context.Context, jobID id.JobID, workerID string, nextRunAt time.Time, lastError string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE backlog_jobs
		SET
			status           = 'queued',
			next_run_at      = $3,
			last_error       = $4,
			worker_id        = '',
			lease_expires_at = NULL,
			updated_at       = NOW()
		WHERE id = $1 AND worker_id = $2 AND status = 'leased'
		RETURNING`+jobColumns,
		jobID.String(), workerID, nextRunAt, lastError,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrJobNotLeased
		}
		return nil, fmt.Errorf("backlog/postgres: reschedule job: %w", err)
	}
	return j, nil
}

// DeadLetterJob transitions a leased job to dlq.
func (s *Store) DeadLetterJob(ctx context.Context, jobID id.JobID, workerID string, lastError string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE backlog_jobs
		SET
			status           = 'dlq',
			last_error       = $3,
			worker_id        = '',
			lease_expires_at = NULL,
			updated_at       = NOW()
		WHERE id = $1 AND worker_id = $2 AND status = 'leased'
		RETURNING`+jobColumns,
		jobID.String(), workerID, lastError,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrJobNotLeased
		}
		return nil, fmt.Errorf("backlog/postgres: dead-letter job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM backlog_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM backlog_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("backlog/postgres: count jobs: %w", err)
	}
	return count, nil
}

// PurgeSucceeded removes succeeded jobs last updated before the cutoff.
func (s *Store) PurgeSucceeded(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM backlog_jobs WHERE status = 'succeeded' AND updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("backlog/postgres: purge succeeded: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		statusStr string
	)
	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &j.Priority, &statusStr,
		&j.Attempt, &j.MaxAttempts,
		&j.NextRunAt, &j.WorkerID, &j.LeaseExpiresAt, &j.Result, &j.LastError,
		&j.CreatedBy, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("backlog/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("backlog/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backlog/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
