// Package orchestrator converges the client-visible status of asynchronous
// generation jobs to their true terminal state. It accepts idempotent
// generation requests, submits work to the configured worker, and merges two
// unreliable signal sources, push notifications and a polling fallback, into
// one deduplicated update stream per target.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wavelearn/genflow/internal/cache"
	"github.com/wavelearn/genflow/internal/config"
	"github.com/wavelearn/genflow/internal/notify"
	"github.com/wavelearn/genflow/internal/retry"
	"github.com/wavelearn/genflow/internal/store"
	"github.com/wavelearn/genflow/internal/worker"
	"github.com/wavelearn/genflow/pkg/models"
)

// Orchestrator owns all live per-target synchronization state for this
// process. Targets are fully independent; the registry map only closes the
// double-submit race.
type Orchestrator struct {
	store     store.Store
	cache     *cache.Tiered
	transport notify.Transport
	publisher notify.Publisher
	workers   worker.Registry
	cfg       config.OrchestratorConfig
	logger    *slog.Logger

	mu      sync.Mutex
	targets map[string]*syncState
	closed  bool
	wg      sync.WaitGroup
}

func New(
	st store.Store,
	cache *cache.Tiered,
	transport notify.Transport,
	publisher notify.Publisher,
	workers worker.Registry,
	cfg config.OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:     st,
		cache:     cache,
		transport: transport,
		publisher: publisher,
		workers:   workers,
		cfg:       cfg,
		logger:    logger,
		targets:   map[string]*syncState{},
	}
}

// RequestGeneration is the idempotent entry point. A cached result returns
// an already-terminal subscription; an active generation for the same target
// returns a subscription attached to it; otherwise the target is reserved
// synchronously and submission proceeds in the background.
func (o *Orchestrator) RequestGeneration(ctx context.Context, target models.GenerationTarget, payload json.RawMessage) (*Subscription, error) {
	if !target.Kind.Valid() || target.TargetID == "" || target.Fingerprint == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target.Key())
	}

	if ref, ok := o.cache.GetResult(ctx, target); ok {
		return NewCompletedSubscription(models.JobStatusSucceeded, ref, nil), nil
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := o.targets[target.Key()]; ok {
		o.mu.Unlock()
		return s.attach(), nil
	}

	// Reserve before any network call so a concurrent request for the same
	// target attaches instead of double-submitting.
	s := newSyncState(o, target)
	o.targets[target.Key()] = s
	o.wg.Add(1)
	o.mu.Unlock()

	sub := s.attach()
	go o.submit(s, payload)
	return sub, nil
}

// GetCached probes the content cache without side effects beyond
// memory-tier promotion.
func (o *Orchestrator) GetCached(ctx context.Context, target models.GenerationTarget) (string, bool) {
	return o.cache.GetResult(ctx, target)
}

// Invalidate clears a target's cached result from both tiers.
func (o *Orchestrator) Invalidate(ctx context.Context, target models.GenerationTarget) {
	o.cache.Invalidate(ctx, target)
}

// Cancel tears down the target's live state, if any: loops stop, subscriber
// channels close without a terminal update, nothing is persisted or
// published. Idempotent; a later RequestGeneration is a fresh start.
func (o *Orchestrator) Cancel(target models.GenerationTarget) {
	o.mu.Lock()
	s, ok := o.targets[target.Key()]
	if ok {
		delete(o.targets, target.Key())
	}
	o.mu.Unlock()

	if ok {
		s.teardownSilent()
	}
}

// Close tears down all live targets and waits for their goroutines.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	states := make([]*syncState, 0, len(o.targets))
	for _, s := range o.targets {
		states = append(states, s)
	}
	o.targets = map[string]*syncState{}
	o.mu.Unlock()

	for _, s := range states {
		s.teardownSilent()
	}
	o.wg.Wait()
}

// ActiveTargets reports how many targets currently hold live state.
func (o *Orchestrator) ActiveTargets() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.targets)
}

func (o *Orchestrator) removeState(s *syncState) {
	o.mu.Lock()
	if cur, ok := o.targets[s.target.Key()]; ok && cur == s {
		delete(o.targets, s.target.Key())
	}
	o.mu.Unlock()
}

// submit runs once per reservation, in the background.
func (o *Orchestrator) submit(s *syncState, payload json.RawMessage) {
	defer o.wg.Done()
	ctx := s.ctx

	// Re-read the store first: a live job from a previous process life (or
	// another instance) is adopted rather than resubmitted, and a finished
	// one just repairs the cache.
	existing, err := o.store.GetJobByTarget(ctx, s.target)
	switch {
	case err == nil && existing.Status == models.JobStatusSucceeded && existing.ResultRef != nil:
		s.setJob(existing.ID)
		s.observe(observationFromJob(existing))
		return
	case err == nil && !existing.Status.Terminal():
		o.logger.Info("adopting live job",
			"target", s.target.Key(),
			"job_id", existing.ID,
			"status", existing.Status)
		s.setJob(existing.ID)
		o.startLoops(s)
		s.observe(observation{status: existing.Status})
		return
	case err != nil && !errors.Is(err, store.ErrNotFound):
		o.logger.Warn("pre-submit job lookup failed",
			"target", s.target.Key(),
			"error", err)
	}

	inv, err := o.workers.For(s.target.Kind)
	if err != nil {
		o.failSubmission(s, err)
		return
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:          uuid.New(),
		Kind:        s.target.Kind,
		TargetID:    s.target.TargetID,
		Fingerprint: s.target.Fingerprint,
		Status:      models.JobStatusQueued,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	policy := retry.Policy{MaxAttempts: o.cfg.SubmitAttempts, BaseDelay: o.cfg.SubmitBaseDelay}
	result, err := retry.Do(ctx, o.logger, "worker submit", policy, worker.Transient, func() (worker.Result, error) {
		return inv.Invoke(ctx, job)
	})
	if err != nil {
		o.failSubmission(s, err)
		return
	}

	if result.Completed {
		o.completeSync(ctx, s, job, result.ResultRef)
		return
	}

	// Asynchronous worker accepted the job: persist it and start the two
	// convergence loops.
	if err := o.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// Another instance won the race; adopt its job.
			if existing, gerr := o.store.GetJobByTarget(ctx, s.target); gerr == nil {
				s.setJob(existing.ID)
				o.startLoops(s)
				s.observe(observation{status: existing.Status})
				return
			}
		}
		o.failSubmission(s, fmt.Errorf("persisting job: %w", err))
		return
	}

	s.setJob(job.ID)
	o.startLoops(s)
}

// completeSync handles a worker that finished inside the submit call: the
// job record is born terminal, the change is published for any other
// listener, and the state concludes.
func (o *Orchestrator) completeSync(ctx context.Context, s *syncState, job *models.Job, resultRef string) {
	job.Status = models.JobStatusSucceeded
	job.ResultRef = &resultRef
	job.UpdatedAt = time.Now().UTC()

	if err := o.store.CreateJob(ctx, job); err != nil {
		// The result itself is valid; the record is for probes and audit.
		o.logger.Warn("persisting completed job failed",
			"target", s.target.Key(),
			"job_id", job.ID,
			"error", err)
	}

	if o.publisher != nil {
		change := notify.Change{
			JobID:       job.ID,
			Kind:        job.Kind,
			TargetID:    job.TargetID,
			Fingerprint: job.Fingerprint,
			Status:      models.JobStatusSucceeded,
			ResultRef:   resultRef,
		}
		if err := o.publisher.Publish(ctx, change); err != nil {
			o.logger.Warn("publishing completion failed",
				"target", s.target.Key(),
				"error", err)
		}
	}

	s.setJob(job.ID)
	s.observe(observation{status: models.JobStatusSucceeded, resultRef: resultRef})
}

// failSubmission surfaces a terminal failed update without writing a job
// record. The reservation is released by the terminal teardown, so the
// caller may resubmit immediately.
func (o *Orchestrator) failSubmission(s *syncState, cause error) {
	err := fmt.Errorf("%w: %w", ErrSubmitFailed, cause)
	o.logger.Error("job submission failed",
		"target", s.target.Key(),
		"error", cause)
	s.observe(observation{status: models.JobStatusFailed, err: err})
}

func (o *Orchestrator) startLoops(s *syncState) {
	o.wg.Add(2)
	go o.runPoll(s)
	go o.runListener(s)
}
