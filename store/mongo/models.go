package mongo

import (
	"fmt"
	"time"

	"github.com/loomery/backlog/id"
	"github.com/loomery/backlog/job"
)

type jobModel struct {
	ID             string     `bson:"_id"`
	Type           string     `bson:"type"`
	Payload        []byte     `bson:"payload"`
	Priority       int        `bson:"priority"`
	Status         string     `bson:"status"`
	Attempt        int        `bson:"attempt"`
	MaxAttempts    int        `bson:"max_attempts"`
	NextRunAt      time.Time  `bson:"next_run_at"`
	WorkerID       string     `bson:"worker_id"`
	LeaseExpiresAt *time.Time `bson:"lease_expires_at,omitempty"`
	Result         []byte     `bson:"result,omitempty"`
	LastError      string     `bson:"last_error"`
	CreatedBy      string     `bson:"created_by"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:             j.ID.String(),
		Type:           j.Type,
		Payload:        j.Payload,
		Priority:       j.Priority,
		Status:         string(j.Status),
		Attempt:        j.Attempt,
		MaxAttempts:    j.MaxAttempts,
		NextRunAt:      j.NextRunAt,
		WorkerID:       j.WorkerID,
		LeaseExpiresAt: j.LeaseExpiresAt,
		Result:         j.Result,
		LastError:      j.LastError,
		CreatedBy:      j.CreatedBy,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("backlog/mongo: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		ID:             parsedID,
		Type:           m.Type,
		Payload:        m.Payload,
		Priority:       m.Priority,
		Status:         job.Status(m.Status),
		Attempt:        m.Attempt,
		MaxAttempts:    m.MaxAttempts,
		NextRunAt:      m.NextRunAt,
		WorkerID:       m.WorkerID,
		LeaseExpiresAt: m.LeaseExpiresAt,
		Result:         m.Result,
		LastError:      m.LastError,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}
