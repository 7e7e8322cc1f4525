package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/loomery/backlog/job"
)

// LeaseGuard returns middleware that bounds handler execution by the
// job's lease expiry. The handler's context is cancelled shortly before
// the lease lapses so the worker's report still lands while it holds
// the lease; a report after expiry would be rejected once another
// worker reclaims the job.
//
// margin is subtracted from the lease deadline to leave room for the
// report round-trip. A margin at or above the remaining lease time
// leaves the context unbounded rather than cancelling immediately.
func LeaseGuard(logger *slog.Logger, margin time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.LeaseExpiresAt == nil {
			return next(ctx)
		}

		deadline := j.LeaseExpiresAt.Add(-margin)
		if !deadline.After(time.Now()) {
			logger.Warn("lease margin exceeds remaining lease time",
				slog.String("job_id", j.ID.String()),
				slog.Time("lease_expires_at", *j.LeaseExpiresAt),
				slog.Duration("margin", margin),
			)
			return next(ctx)
		}

		logger.Debug("handler deadline set from lease",
			slog.String("job_id", j.ID.String()),
			slog.Time("deadline", deadline),
		)
		ctx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()
		return next(ctx)
	}
}
