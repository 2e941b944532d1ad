package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wavelearn/genflow/internal/config"
	"github.com/wavelearn/genflow/pkg/models"
)

// Relay is an asynchronous worker client: it hands the job to an external
// generation worker over HTTP; the worker later reports the terminal status
// through the job completion callback endpoint named in CallbackURL.
type Relay struct {
	cfg    config.RelayConfig
	client *http.Client
}

func NewRelay(cfg config.RelayConfig) *Relay {
	return &Relay{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *Relay) Name() string { return "relay" }

type relaySubmission struct {
	JobID       string            `json:"job_id"`
	Kind        models.TargetKind `json:"kind"`
	TargetID    string            `json:"target_id"`
	Payload     json.RawMessage   `json:"payload"`
	CallbackURL string            `json:"callback_url"`
}

func (p *Relay) Invoke(ctx context.Context, job *models.Job) (Result, error) {
	raw, err := json.Marshal(relaySubmission{
		JobID:       job.ID.String(),
		Kind:        job.Kind,
		TargetID:    job.TargetID,
		Payload:     job.Payload,
		CallbackURL: p.cfg.CallbackURL,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encoding submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/jobs", bytes.NewReader(raw))
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, classifyHTTPError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return Result{}, classifyStatus(resp.StatusCode)
	}

	return Result{Completed: false}, nil
}

var _ Invoker = (*Relay)(nil)
