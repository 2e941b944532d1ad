package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wavelearn/genflow/internal/api/response"
	"github.com/wavelearn/genflow/internal/notify"
	"github.com/wavelearn/genflow/internal/store"
	"github.com/wavelearn/genflow/pkg/models"
)

// JobCompleter persists a worker-reported terminal status.
type JobCompleter interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) error
}

// NewCompleteJobHandler returns an http.HandlerFunc for
// POST /internal/v1/jobs/{jobID}/complete, the callback asynchronous workers
// use to report a terminal outcome. The status is persisted first and only
// then published, so a push listener that reacts to the change always finds
// the record already terminal.
func NewCompleteJobHandler(jobs JobCompleter, publisher notify.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"jobID must be a valid UUID", nil)
			return
		}

		var req struct {
			Status       models.JobStatus `json:"status"`
			ResultRef    string           `json:"result_ref"`
			ErrorMessage string           `json:"error_message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if !req.Status.Terminal() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be terminal: succeeded, failed, or timed_out", nil)
			return
		}
		if req.Status == models.JobStatusSucceeded && req.ResultRef == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"result_ref is required for succeeded", nil)
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

		// First terminal wins at the persistence edge too: a duplicate or
		// late callback changes nothing.
		if job.Status.Terminal() {
			response.JSON(w, map[string]any{"id": job.ID, "status": job.Status})
			return
		}

		var opts []store.JobUpdateOption
		if req.ResultRef != "" {
			opts = append(opts, store.WithResultRef(req.ResultRef))
		}
		if req.ErrorMessage != "" {
			opts = append(opts, store.WithErrorMessage(req.ErrorMessage))
		}

		if err := jobs.UpdateJobStatus(r.Context(), jobID, req.Status, opts...); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to persist job status", nil)
			return
		}

		change := notify.Change{
			JobID:        job.ID,
			Kind:         job.Kind,
			TargetID:     job.TargetID,
			Fingerprint:  job.Fingerprint,
			Status:       req.Status,
			ResultRef:    req.ResultRef,
			ErrorMessage: req.ErrorMessage,
		}
		if err := publisher.Publish(r.Context(), change); err != nil {
			// Poll fallback converges without the push.
			slog.Warn("publishing job completion failed", "job_id", job.ID, "error", err)
		}

		response.JSON(w, map[string]any{"id": job.ID, "status": req.Status})
	}
}
