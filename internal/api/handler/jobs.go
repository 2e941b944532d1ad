package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wavelearn/genflow/internal/api/response"
	"github.com/wavelearn/genflow/internal/store"
	"github.com/wavelearn/genflow/pkg/models"
)

// JobReader looks up a job record by ID.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type jobResponse struct {
	ID           uuid.UUID         `json:"id"`
	Kind         models.TargetKind `json:"kind"`
	TargetID     string            `json:"target_id"`
	Fingerprint  string            `json:"fingerprint"`
	Status       models.JobStatus  `json:"status"`
	ResultRef    *string           `json:"result_ref,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewPollJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewPollJobHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"jobID must be a valid UUID", nil)
			return
		}

		job, err := jobs.GetJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, jobResponse{
			ID:           job.ID,
			Kind:         job.Kind,
			TargetID:     job.TargetID,
			Fingerprint:  job.Fingerprint,
			Status:       job.Status,
			ResultRef:    job.ResultRef,
			ErrorMessage: job.ErrorMessage,
			CreatedAt:    job.CreatedAt,
			UpdatedAt:    job.UpdatedAt,
		})
	}
}
