package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wavelearn/genflow/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobByTarget(ctx context.Context, target models.GenerationTarget) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) error
}

// JobUpdate collects the optional columns of a job status update. Exported
// so fake stores can apply the same options the Postgres store does.
type JobUpdate struct {
	ResultRef    *string
	ErrorMessage *string
}

// JobUpdateOption attaches optional columns to a job status update.
type JobUpdateOption func(*JobUpdate)

// WithResultRef records the artifact reference of a succeeded job.
func WithResultRef(ref string) JobUpdateOption {
	return func(u *JobUpdate) { u.ResultRef = &ref }
}

// WithErrorMessage records the failure reason of a failed job.
func WithErrorMessage(msg string) JobUpdateOption {
	return func(u *JobUpdate) { u.ErrorMessage = &msg }
}
