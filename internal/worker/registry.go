package worker

import (
	"context"
	"fmt"

	"github.com/wavelearn/genflow/internal/config"
	"github.com/wavelearn/genflow/pkg/models"
)

// Registry maps each target kind to its configured worker client.
type Registry map[models.TargetKind]Invoker

// NewRegistry constructs the worker clients selected by config.
// Called once at server startup.
func NewRegistry(cfg config.WorkerConfig) (Registry, error) {
	reg := Registry{}
	for kind, provider := range map[models.TargetKind]string{
		models.KindStepContent:  cfg.TextProvider,
		models.KindPodcastAudio: cfg.AudioProvider,
		models.KindImage:        cfg.ImageProvider,
	} {
		inv, err := newInvoker(provider, cfg)
		if err != nil {
			return nil, err
		}
		reg[kind] = inv
	}
	return reg, nil
}

// For returns the invoker for a kind, or an ErrRejected-wrapped error for
// unknown kinds.
func (r Registry) For(kind models.TargetKind) (Invoker, error) {
	inv, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no worker configured for kind %q", ErrRejected, kind)
	}
	return inv, nil
}

func newInvoker(provider string, cfg config.WorkerConfig) (Invoker, error) {
	switch provider {
	case "openai":
		return NewOpenAI(cfg.OpenAI), nil
	case "relay":
		return NewRelay(cfg.Relay), nil
	case "mock":
		return noopInvoker{}, nil
	default:
		return nil, fmt.Errorf("unknown worker provider %q: must be one of openai, relay, mock", provider)
	}
}

// noopInvoker completes instantly with a placeholder ref; used when a
// modality is configured as "mock" (local development without provider
// credentials).
type noopInvoker struct{}

func (noopInvoker) Name() string { return "mock" }

func (noopInvoker) Invoke(_ context.Context, job *models.Job) (Result, error) {
	return Result{ResultRef: "mock:" + job.ID.String(), Completed: true}, nil
}
