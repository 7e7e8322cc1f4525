package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/loomery/backlog"
	"github.com/loomery/backlog/id"
	"github.com/loomery/backlog/job"
)

// CreateJob persists a new job document.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.Collection(colJobs).InsertOne(ctx, toJobModel(j))
	if err != nil {
		if isDuplicateKey(err) {
			return backlog.ErrJobAlreadyExists
		}
		return fmt.Errorf("backlog/mongo: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, backlog.ErrJobNotFound
		}
		return nil, fmt.Errorf("backlog/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// ClaimOne atomically claims the best matching job with a single
// FindOneAndUpdate: the filter admits queued jobs and leased jobs whose
// lease has expired, the update sets the lease and increments the
// attempt counter. The document-level atomicity of this operation is
// the sole mechanism preventing two workers from claiming the same job.
func (s *Store) ClaimOne(ctx context.Context, q job.ClaimQuery) (*job.Job, error) {
	filter := bson.M{
		"next_run_at": bson.M{"$lte": q.Now},
		"$or": bson.A{
			bson.M{"status": string(job.StatusQueued)},
			bson.M{
				"status":           string(job.StatusLeased),
				"lease_expires_at": bson.M{"$lte": q.Now},
			},
		},
	}
	if q.Type != "" {
		filter["type"] = q.Type
	}

	update := bson.M{
		"$set": bson.M{
			"status":           string(job.StatusLeased),
			"worker_id":        q.WorkerID,
			"lease_expires_at": q.LeaseExpiresAt,
			"updated_at":       q.Now,
		},
		"$inc": bson.M{"attempt": 1},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "priority", Value: -1},
			{Key: "next_run_at", Value: 1},
		})

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, backlog.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("backlog/mongo: claim job: %w", err)
	}
	return fromJobModel(&m)
}

// CompleteJob transitions a leased job to succeeded, conditional on the
// reporting worker still holding the lease.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, workerID string, result []byte) (*job.Job, error) {
	update := bson.M{
		"$set": bson.M{
			"status":     string(job.StatusSucceeded),
			"result":     result,
			"worker_id":  "",
			"updated_at": now(),
		},
		"$unset": bson.M{"lease_expires_at": ""},
	}
	return s.findOneAndTransition(ctx, jobID, workerID, update, "complete job")
}

// RescheduleJob transitions a leased job back to queued with a future
// next_run_at, conditional on the reporting worker still holding the
// lease.
func (s *Store) RescheduleJob(ctx context.Context, jobID id.JobID, workerID string, nextRunAt time.Time, lastError string) (*job.Job, error) {
	update := bson.M{
		"$set": bson.M{
			"status":      string(job.StatusQueued),
			"next_run_at": nextRunAt,
			"last_error":  lastError,
			"worker_id":   "",
			"updated_at":  now(),
		},
		"$unset": bson.M{"lease_expires_at": ""},
	}
	return s.findOneAndTransition(ctx, jobID, workerID, update, "reschedule job")
}

// DeadLetterJob transitions a leased job to dlq, conditional on the
// reporting worker still holding the lease.
func (s *Store) DeadLetterJob(ctx context.Context, jobID id.JobID, workerID string, lastError string) (*job.Job, error) {
	update := bson.M{
		"$set": bson.M{
			"status":     string(job.StatusDLQ),
			"last_error": lastError,
			"worker_id":  "",
			"updated_at": now(),
		},
		"$unset": bson.M{"lease_expires_at": ""},
	}
	return s.findOneAndTransition(ctx, jobID, workerID, update, "dead-letter job")
}

// findOneAndTransition applies update under the shared
// jobID + workerID + leased condition.
func (s *Store) findOneAndTransition(ctx context.Context, jobID id.JobID, workerID string, update bson.M, op string) (*job.Job, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.db.Collection(colJobs).
		FindOneAndUpdate(ctx, statusFilter(jobID.String(), workerID), update, opts).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, backlog.ErrJobNotLeased
		}
		return nil, fmt.Errorf("backlog/mongo: %s: %w", op, err)
	}
	return fromJobModel(&m)
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{}
	if opts.Type != "" {
		filter["type"] = opts.Type
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("backlog/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("backlog/mongo: list jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("backlog/mongo: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Type != "" {
		filter["type"] = opts.Type
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	count, err := s.db.Collection(colJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("backlog/mongo: count jobs: %w", err)
	}
	return count, nil
}

// PurgeSucceeded removes succeeded jobs last updated before the cutoff.
func (s *Store) PurgeSucceeded(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(colJobs).DeleteMany(ctx, bson.M{
		"status":     string(job.StatusSucceeded),
		"updated_at": bson.M{"$lt": before},
	})
	if err != nil {
		return 0, fmt.Errorf("backlog/mongo: purge succeeded: %w", err)
	}
	return res.DeletedCount, nil
}
