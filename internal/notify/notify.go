// Package notify carries job change notifications between the worker
// completion path and orchestrator push listeners. No delivery-order or
// at-least-once guarantee is assumed of any implementation; the poll
// fallback loop covers missed deliveries.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wavelearn/genflow/pkg/models"
)

// ErrSubscriptionClosed is reported by a Handle whose delivery stopped
// without an explicit Close, e.g. a dropped connection.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Change is a raw job change event as it travels over the transport.
type Change struct {
	JobID        uuid.UUID         `json:"job_id"`
	Kind         models.TargetKind `json:"kind"`
	TargetID     string            `json:"target_id"`
	Fingerprint  string            `json:"fingerprint"`
	Status       models.JobStatus  `json:"status"`
	ResultRef    string            `json:"result_ref,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// Target returns the generation target the change refers to.
func (c Change) Target() models.GenerationTarget {
	return models.GenerationTarget{Kind: c.Kind, TargetID: c.TargetID, Fingerprint: c.Fingerprint}
}

// Handler receives changes for a subscribed scope.
type Handler func(Change)

// Handle is a live subscription. Done is closed when delivery stops for any
// reason; Err reports why, or nil after an explicit Close. Close is idempotent.
type Handle interface {
	Done() <-chan struct{}
	Err() error
	Close()
}

// Transport delivers change notifications for a target scope.
type Transport interface {
	Subscribe(ctx context.Context, scope string, h Handler) (Handle, error)
}

// Publisher emits change notifications. The worker completion callback is
// the main producer.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}
