package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wavelearn/genflow/internal/api/response"
	"github.com/wavelearn/genflow/internal/orchestrator"
	"github.com/wavelearn/genflow/internal/store"
	"github.com/wavelearn/genflow/pkg/models"
)

// Orchestrator defines the interface the generation handlers depend on.
type Orchestrator interface {
	RequestGeneration(ctx context.Context, target models.GenerationTarget, payload json.RawMessage) (*orchestrator.Subscription, error)
	GetCached(ctx context.Context, target models.GenerationTarget) (string, bool)
	Invalidate(ctx context.Context, target models.GenerationTarget)
	Cancel(target models.GenerationTarget)
}

// TargetJobReader looks up the latest job attempt for a target.
type TargetJobReader interface {
	GetJobByTarget(ctx context.Context, target models.GenerationTarget) (*models.Job, error)
}

type generateResponse struct {
	Kind        models.TargetKind `json:"kind"`
	TargetID    string            `json:"target_id"`
	Fingerprint string            `json:"fingerprint"`
	Status      models.JobStatus  `json:"status"`
	ResultRef   string            `json:"result_ref,omitempty"`
}

// NewGenerateHandler returns an http.HandlerFunc for POST /api/v1/generate.
// A cached result answers 200 immediately; otherwise the request is
// submitted (or joins an in-flight generation) and answers 202.
func NewGenerateHandler(orc Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Kind     models.TargetKind `json:"kind"`
			TargetID string            `json:"target_id"`
			Params   map[string]any    `json:"params"`
			Payload  json.RawMessage   `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if !req.Kind.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"kind must be one of step_content, podcast_audio, image", nil)
			return
		}
		if req.TargetID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "target_id is required", nil)
			return
		}
		if len(req.Params) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "params is required", nil)
			return
		}

		target := models.GenerationTarget{
			Kind:        req.Kind,
			TargetID:    req.TargetID,
			Fingerprint: models.Fingerprint(req.Params),
		}

		if ref, ok := orc.GetCached(r.Context(), target); ok {
			response.JSON(w, generateResponse{
				Kind:        target.Kind,
				TargetID:    target.TargetID,
				Fingerprint: target.Fingerprint,
				Status:      models.JobStatusSucceeded,
				ResultRef:   ref,
			})
			return
		}

		payload := req.Payload
		if payload == nil {
			payload, _ = json.Marshal(req.Params)
		}

		sub, err := orc.RequestGeneration(r.Context(), target, payload)
		if err != nil {
			switch {
			case errors.Is(err, orchestrator.ErrInvalidTarget):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			case errors.Is(err, orchestrator.ErrClosed):
				response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN",
					"Server is shutting down", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		// The HTTP caller tracks progress by probing; it holds no channel.
		status := sub.Current()
		sub.Cancel()

		response.Accepted(w, generateResponse{
			Kind:        target.Kind,
			TargetID:    target.TargetID,
			Fingerprint: target.Fingerprint,
			Status:      status,
		})
	}
}

// NewProbeHandler returns an http.HandlerFunc for
// GET /api/v1/generate/{kind}/{targetID}. It answers from the cache when
// possible and falls back to the latest job record.
func NewProbeHandler(orc Orchestrator, jobs TargetJobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, ok := targetFromRequest(w, r)
		if !ok {
			return
		}

		if ref, found := orc.GetCached(r.Context(), target); found {
			response.JSON(w, generateResponse{
				Kind:        target.Kind,
				TargetID:    target.TargetID,
				Fingerprint: target.Fingerprint,
				Status:      models.JobStatusSucceeded,
				ResultRef:   ref,
			})
			return
		}

		job, err := jobs.GetJobByTarget(r.Context(), target)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND",
					"No generation exists for this target", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		resp := generateResponse{
			Kind:        target.Kind,
			TargetID:    target.TargetID,
			Fingerprint: target.Fingerprint,
			Status:      job.Status,
		}
		if job.ResultRef != nil {
			resp.ResultRef = *job.ResultRef
		}
		response.JSON(w, resp)
	}
}

// NewCancelHandler returns an http.HandlerFunc for
// DELETE /api/v1/generate/{kind}/{targetID}. Cancellation is silent and
// idempotent; it never touches persisted job records.
func NewCancelHandler(orc Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, ok := targetFromRequest(w, r)
		if !ok {
			return
		}

		orc.Cancel(target)
		response.JSON(w, map[string]any{"cancelled": true})
	}
}

func targetFromRequest(w http.ResponseWriter, r *http.Request) (models.GenerationTarget, bool) {
	kind := models.TargetKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"kind must be one of step_content, podcast_audio, image", nil)
		return models.GenerationTarget{}, false
	}

	fingerprint := r.URL.Query().Get("fingerprint")
	if fingerprint == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"fingerprint query parameter is required", nil)
		return models.GenerationTarget{}, false
	}

	return models.GenerationTarget{
		Kind:        kind,
		TargetID:    chi.URLParam(r, "targetID"),
		Fingerprint: fingerprint,
	}, true
}
