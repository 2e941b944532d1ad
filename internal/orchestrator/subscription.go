package orchestrator

import (
	"sync"

	"github.com/wavelearn/genflow/pkg/models"
)

// StatusUpdate is one observed change in a job's client-visible status.
// ResultRef is set only on succeeded; Err only on failed or timed_out.
type StatusUpdate struct {
	Status    models.JobStatus
	ResultRef string
	Err       error
}

// Subscription is one caller's view of a target's generation lifecycle.
// Updates delivers deduplicated status changes and is closed after the
// terminal update; Current is readable at any time, including after close.
type Subscription struct {
	state *syncState
	id    int
	ch    chan StatusUpdate

	mu      sync.Mutex
	current models.JobStatus
	closed  bool
}

// Updates returns the status channel. It is closed once, after the terminal
// update has been buffered, or without one if the target was cancelled.
func (s *Subscription) Updates() <-chan StatusUpdate { return s.ch }

// Current returns the last status delivered to this subscription.
func (s *Subscription) Current() models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Cancel detaches this subscription. The target's generation continues for
// any other subscribers.
func (s *Subscription) Cancel() {
	if s.state != nil {
		s.state.detach(s.id)
		return
	}
	s.close()
}

// deliver buffers an update without blocking; a subscriber that has fallen
// more than a full buffer behind loses the oldest intermediate states but
// never the terminal one, because dedup bounds updates per lifecycle well
// below the buffer size.
func (s *Subscription) deliver(u StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.current = u.Status
	select {
	case s.ch <- u:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// NewCompletedSubscription returns a detached subscription that is already
// terminal: one buffered update, channel closed. Cache hits are served this
// way, and handler tests fake the orchestrator with it.
func NewCompletedSubscription(status models.JobStatus, resultRef string, err error) *Subscription {
	sub := &Subscription{
		ch:      make(chan StatusUpdate, 1),
		current: status,
		closed:  true,
	}
	sub.ch <- StatusUpdate{Status: status, ResultRef: resultRef, Err: err}
	close(sub.ch)
	return sub
}
