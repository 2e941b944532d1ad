package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wavelearn/genflow/internal/notify"
	"github.com/wavelearn/genflow/pkg/models"
)

// observation is one status signal entering the synchronizer, from any
// source: push listener, poll loop, submitter, or the synthetic timeout.
type observation struct {
	status    models.JobStatus
	resultRef string
	err       error
}

func observationFromJob(job *models.Job) observation {
	obs := observation{status: job.Status}
	switch job.Status {
	case models.JobStatusSucceeded:
		if job.ResultRef != nil {
			obs.resultRef = *job.ResultRef
		}
	case models.JobStatusFailed:
		msg := "unknown cause"
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		obs.err = fmt.Errorf("%w: %s", ErrJobFailed, msg)
	case models.JobStatusTimedOut:
		obs.err = ErrJobTimedOut
	}
	return obs
}

func observationFromChange(c notify.Change) observation {
	obs := observation{status: c.Status, resultRef: c.ResultRef}
	switch c.Status {
	case models.JobStatusFailed:
		msg := c.ErrorMessage
		if msg == "" {
			msg = "unknown cause"
		}
		obs.err = fmt.Errorf("%w: %s", ErrJobFailed, msg)
	case models.JobStatusTimedOut:
		obs.err = ErrJobTimedOut
	}
	return obs
}

// syncState is the per-target synchronization state. At most one exists per
// target key; its lifetime spans reservation to terminal teardown. All
// status merging goes through observe, serialized by mu.
type syncState struct {
	orc    *Orchestrator
	target models.GenerationTarget
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	status       models.JobStatus
	jobID        uuid.UUID
	hasJob       bool
	lastObserved time.Time
	done         bool
	resultRef    string
	termErr      error
	pushDegraded bool
	subs         map[int]*Subscription
	nextSub      int
}

func newSyncState(orc *Orchestrator, target models.GenerationTarget) *syncState {
	ctx, cancel := context.WithCancel(context.Background())
	return &syncState{
		orc:    orc,
		target: target,
		ctx:    ctx,
		cancel: cancel,
		status: models.JobStatusQueued,
		subs:   map[int]*Subscription{},
	}
}

// attach adds a subscriber. Attaching to a state that already concluded
// returns a completed subscription carrying the terminal outcome.
func (s *syncState) attach() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return NewCompletedSubscription(s.status, s.resultRef, s.termErr)
	}
	sub := &Subscription{
		state:   s,
		id:      s.nextSub,
		ch:      make(chan StatusUpdate, 8),
		current: s.status,
	}
	s.subs[sub.id] = sub
	s.nextSub++
	return sub
}

func (s *syncState) detach(id int) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if ok {
		sub.close()
	}
}

func (s *syncState) setJob(id uuid.UUID) {
	s.mu.Lock()
	s.jobID = id
	s.hasJob = true
	s.mu.Unlock()
}

func (s *syncState) job() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID, s.hasJob
}

func (s *syncState) markPushDegraded() {
	s.mu.Lock()
	s.pushDegraded = true
	s.mu.Unlock()
}

func (s *syncState) isPushDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushDegraded
}

// observe merges one observation into the state. First terminal wins and is
// applied exactly once; everything after it is discarded, including genuine
// terminals arriving after a synthetic timeout. Non-terminal observations
// equal to the last known status are dropped.
func (s *syncState) observe(obs observation) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}

	if !obs.status.Terminal() {
		if obs.status == s.status {
			s.mu.Unlock()
			return
		}
		s.status = obs.status
		s.lastObserved = time.Now()
		subs := s.snapshotSubs()
		s.mu.Unlock()

		update := StatusUpdate{Status: obs.status}
		for _, sub := range subs {
			sub.deliver(update)
		}
		return
	}

	s.done = true
	s.status = obs.status
	s.lastObserved = time.Now()
	s.resultRef = obs.resultRef
	s.termErr = obs.err
	subs := s.snapshotSubs()
	s.subs = map[int]*Subscription{}
	s.mu.Unlock()

	// The result must be readable through GetCached by the time any
	// subscriber sees the succeeded update.
	if obs.status == models.JobStatusSucceeded && obs.resultRef != "" {
		s.orc.cache.SetResult(context.Background(), s.target, obs.resultRef)
	}

	update := StatusUpdate{Status: obs.status, ResultRef: obs.resultRef, Err: obs.err}
	for _, sub := range subs {
		sub.deliver(update)
		sub.close()
	}

	s.cancel()
	s.orc.removeState(s)
}

// teardownSilent stops the loops and closes subscriber channels without a
// terminal update. Used by Cancel and by orchestrator shutdown.
func (s *syncState) teardownSilent() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	subs := s.snapshotSubs()
	s.subs = map[int]*Subscription{}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	s.cancel()
}

// snapshotSubs must be called with mu held.
func (s *syncState) snapshotSubs() []*Subscription {
	out := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}
