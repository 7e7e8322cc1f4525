// Package store defines the aggregate persistence interface for the
// job queue. Backends: Mongo (document store, the primary target),
// Postgres, and Memory (tests and development).
package store

import (
	"context"

	"github.com/loomery/backlog/job"
)

// Store is the aggregate persistence interface. A single backend
// implements the job store contract plus lifecycle operations.
type Store interface {
	job.Store

	// Migrate creates collections/tables and indexes.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
