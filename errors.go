package backlog

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("backlog: no store configured")
	ErrStoreClosed     = errors.New("backlog: store closed")
	ErrMigrationFailed = errors.New("backlog: migration failed")

	// Lookup errors.
	ErrJobNotFound    = errors.New("backlog: job not found")
	ErrUnknownJobType = errors.New("backlog: unknown job type")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("backlog: job already exists")

	// ErrJobNotLeased is returned by the report operations when the
	// job does not exist or is no longer leased by the reporting
	// worker. It signals a lost or expired lease: the caller must
	// abandon the report, because another worker or a future retry
	// cycle owns the job now.
	ErrJobNotLeased = errors.New("backlog: job not leased by worker or not found")

	// ErrNoJobAvailable is returned by a store's ClaimOne when no job
	// matches the claim predicate. It is not an error condition for
	// callers of Lease; the service stops the claim loop on it.
	ErrNoJobAvailable = errors.New("backlog: no job available")
)
