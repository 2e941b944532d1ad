package mock

import (
	"context"

	"github.com/wavelearn/genflow/internal/worker"
	"github.com/wavelearn/genflow/pkg/models"
)

// Invoker satisfies worker.Invoker for testing.
type Invoker struct {
	Name_      string
	InvokeFunc func(ctx context.Context, job *models.Job) (worker.Result, error)
}

func (m *Invoker) Name() string { return m.Name_ }

func (m *Invoker) Invoke(ctx context.Context, job *models.Job) (worker.Result, error) {
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, job)
	}
	return worker.Result{}, nil
}

// NewCompleting returns an Invoker that completes synchronously with ref.
func NewCompleting(ref string) *Invoker {
	return &Invoker{
		Name_: "mock",
		InvokeFunc: func(_ context.Context, _ *models.Job) (worker.Result, error) {
			return worker.Result{ResultRef: ref, Completed: true}, nil
		},
	}
}

// NewAccepting returns an Invoker that accepts the job for asynchronous
// completion, like the relay worker.
func NewAccepting() *Invoker {
	return &Invoker{
		Name_: "mock",
		InvokeFunc: func(_ context.Context, _ *models.Job) (worker.Result, error) {
			return worker.Result{Completed: false}, nil
		},
	}
}

// NewFailing returns an Invoker that always returns the given error.
func NewFailing(err error) *Invoker {
	return &Invoker{
		Name_: "mock-failing",
		InvokeFunc: func(_ context.Context, _ *models.Job) (worker.Result, error) {
			return worker.Result{}, err
		},
	}
}

// Compile-time check that Invoker implements worker.Invoker.
var _ worker.Invoker = (*Invoker)(nil)
