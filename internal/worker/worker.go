// Package worker holds the generation worker clients. A worker is an
// external collaborator that produces the artifact for a generation job;
// it may complete synchronously (returning a result ref from Invoke) or
// asynchronously (completing later through the job callback endpoint).
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/wavelearn/genflow/pkg/models"
)

// Sentinel errors for worker invocation failures.
var (
	// ErrUnavailable marks transient failures (network, 429, 5xx) that the
	// retry controller may retry.
	ErrUnavailable = errors.New("generation worker unavailable")
	// ErrRejected marks fatal rejections (invalid payload, auth) that must
	// not be retried.
	ErrRejected = errors.New("generation request rejected")
)

// Result is the outcome of a worker invocation. Completed means the worker
// finished synchronously and ResultRef points at the artifact; otherwise the
// worker will complete the job later through the callback endpoint.
type Result struct {
	ResultRef string
	Completed bool
}

// Invoker submits a generation job to a worker. Never call a specific
// worker client directly; always inject this interface.
type Invoker interface {
	Invoke(ctx context.Context, job *models.Job) (Result, error)
	Name() string
}

// Transient reports whether err is a retryable invocation failure.
func Transient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// classifyHTTPError maps a request error to the worker error taxonomy.
func classifyHTTPError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// classifyStatus maps a non-2xx response status to the worker error taxonomy.
func classifyStatus(status int) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
	return fmt.Errorf("%w: status %d", ErrRejected, status)
}
