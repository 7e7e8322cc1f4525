package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/loomery/backlog/job"
	"github.com/loomery/backlog/store"
)

// colJobs is the collection holding job documents.
const colJobs = "backlog_jobs"

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store. Claims and report
// transitions are single FindOneAndUpdate operations whose filters
// include the expected prior state, which is what makes them safe
// under concurrent workers.
//
// The caller owns the *mongo.Client lifecycle; Close disconnects it.
type Store struct {
	client *mongod.Client
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a MongoDB store over the given client and database name.
func New(client *mongod.Client, database string, opts ...Option) *Store {
	s := &Store{
		client: client,
		db:     client.Database(database),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials MongoDB and returns a ready Store.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("backlog/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("backlog/mongo: ping: %w", err)
	}
	return New(client, database, opts...), nil
}

// Migrate creates the indexes backing the claim query and the
// inspection endpoints.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := []mongod.IndexModel{
		// Claim index: status + next_run_at, ordered by priority.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "next_run_at", Value: 1},
			{Key: "priority", Value: -1},
		}},
		// Type-filtered claims.
		{Keys: bson.D{
			{Key: "type", Value: 1},
			{Key: "status", Value: 1},
			{Key: "next_run_at", Value: 1},
		}},
		// Expired-lease reclamation within the claim predicate.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "lease_expires_at", Value: 1},
		}},
		// Retention purge.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "updated_at", Value: 1},
		}},
	}

	if _, err := s.db.Collection(colJobs).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("backlog/mongo: migrate %s indexes: %w", colJobs, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the underlying client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// statusFilter builds the common jobID + workerID + leased predicate
// used by every report transition.
func statusFilter(jobID, workerID string) bson.M {
	return bson.M{
		"_id":       jobID,
		"worker_id": workerID,
		"status":    string(job.StatusLeased),
	}
}

// isNoDocuments returns true when err indicates no documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}
