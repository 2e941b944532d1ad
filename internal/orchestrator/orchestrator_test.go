package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavelearn/genflow/internal/cache"
	"github.com/wavelearn/genflow/internal/config"
	"github.com/wavelearn/genflow/internal/notify"
	"github.com/wavelearn/genflow/internal/store"
	"github.com/wavelearn/genflow/internal/worker"
	"github.com/wavelearn/genflow/internal/worker/mock"
	"github.com/wavelearn/genflow/pkg/models"
)

// memStore is an in-memory store.Store for orchestrator tests. It enforces
// the same live-job uniqueness the Postgres partial index does, so the
// double-submit properties hold against it too.
type memStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.Job
	seq       map[uuid.UUID]int
	nextSeq   int
	createErr error
	getErr    error
}

func newMemStore() *memStore {
	return &memStore{jobs: map[uuid.UUID]*models.Job{}, seq: map[uuid.UUID]int{}}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) GetAPIKeyByPrefix(context.Context, string) ([]*models.APIKey, error) {
	return nil, store.ErrNotFound
}
func (m *memStore) UpdateAPIKeyLastUsed(context.Context, uuid.UUID) error { return nil }
func (m *memStore) CreateAPIKey(context.Context, *models.APIKey) error    { return nil }
func (m *memStore) ListAPIKeys(context.Context) ([]*models.APIKey, error) { return nil, nil }
func (m *memStore) RevokeAPIKey(context.Context, uuid.UUID) error         { return nil }

func (m *memStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.jobs {
		if existing.Target() == job.Target() && !existing.Status.Terminal() {
			return store.ErrDuplicateKey
		}
	}
	// Stored exactly as handed over, so tests observe the timestamps the
	// orchestrator set rather than ones the store invented.
	cp := *job
	m.jobs[cp.ID] = &cp
	m.seq[cp.ID] = m.nextSeq
	m.nextSeq++
	return nil
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) GetJobByTarget(_ context.Context, target models.GenerationTarget) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Job
	for id, job := range m.jobs {
		if job.Target() != target {
			continue
		}
		if latest == nil || m.seq[id] > m.seq[latest.ID] {
			latest = job
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	var u store.JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	if u.ResultRef != nil {
		job.ResultRef = u.ResultRef
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = u.ErrorMessage
	}
	return nil
}

func (m *memStore) setStatus(t *testing.T, target models.GenerationTarget, status models.JobStatus, resultRef string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Target() == target {
			job.Status = status
			if resultRef != "" {
				ref := resultRef
				job.ResultRef = &ref
			}
			return
		}
	}
	t.Fatalf("no job for target %s", target.Key())
}

func (m *memStore) jobFor(target models.GenerationTarget) (*models.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Target() == target {
			cp := *job
			return &cp, true
		}
	}
	return nil, false
}

// stubDurable is a durable cache tier backed by a map.
type stubDurable struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newStubDurable() *stubDurable { return &stubDurable{data: map[string][]byte{}} }

func (d *stubDurable) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = value
	return nil
}

func (d *stubDurable) Get(_ context.Context, key string) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	val, ok := d.data[key]
	return val, ok, nil
}

func (d *stubDurable) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, key)
	return nil
}

func (d *stubDurable) Ping(context.Context) error { return nil }

func (d *stubDurable) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

type fixture struct {
	orc    *Orchestrator
	broker *notify.Broker
	store  *memStore
	cache  *cache.Tiered
}

func testConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		PollInterval:    10 * time.Millisecond,
		PushThrottle:    0,
		JobTimeout:      time.Hour,
		SubmitAttempts:  3,
		SubmitBaseDelay: time.Millisecond,
		CacheTTL:        time.Minute,
	}
}

func newFixture(t *testing.T, workers worker.Registry, cfg config.OrchestratorConfig) *fixture {
	t.Helper()
	st := newMemStore()
	broker := notify.NewBroker()
	tiered := cache.NewTiered(newStubDurable(), cfg.CacheTTL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orc := New(st, tiered, broker, broker, workers, cfg, logger)
	t.Cleanup(orc.Close)
	return &fixture{orc: orc, broker: broker, store: st, cache: tiered}
}

func stepTarget(id string) models.GenerationTarget {
	return models.GenerationTarget{Kind: models.KindStepContent, TargetID: id, Fingerprint: "fp-1"}
}

func completing(ref string, calls *atomic.Int32) worker.Registry {
	return worker.Registry{models.KindStepContent: &mock.Invoker{
		Name_: "mock",
		InvokeFunc: func(context.Context, *models.Job) (worker.Result, error) {
			calls.Add(1)
			return worker.Result{ResultRef: ref, Completed: true}, nil
		},
	}}
}

func accepting(calls *atomic.Int32) worker.Registry {
	return worker.Registry{models.KindStepContent: &mock.Invoker{
		Name_: "mock",
		InvokeFunc: func(context.Context, *models.Job) (worker.Result, error) {
			calls.Add(1)
			return worker.Result{Completed: false}, nil
		},
	}}
}

func waitUpdate(t *testing.T, sub *Subscription) StatusUpdate {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "updates channel closed before expected update")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status update")
		return StatusUpdate{}
	}
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.False(t, ok, "expected channel close, got update %+v", u)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func waitJobCreated(t *testing.T, f *fixture, target models.GenerationTarget) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		j, ok := f.store.jobFor(target)
		job = j
		return ok
	}, 2*time.Second, 5*time.Millisecond, "job never persisted")
	return job
}

func waitSubscribed(t *testing.T, f *fixture, target models.GenerationTarget) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.broker.Subscribers(target.Scope()) == 1
	}, 2*time.Second, time.Millisecond, "push listener never subscribed")
}

func publish(t *testing.T, f *fixture, job *models.Job, status models.JobStatus, resultRef, errMsg string) {
	t.Helper()
	err := f.broker.Publish(context.Background(), notify.Change{
		JobID:        job.ID,
		Kind:         job.Kind,
		TargetID:     job.TargetID,
		Fingerprint:  job.Fingerprint,
		Status:       status,
		ResultRef:    resultRef,
		ErrorMessage: errMsg,
	})
	require.NoError(t, err)
}

func TestRequestGeneration_InvalidTarget(t *testing.T) {
	f := newFixture(t, worker.Registry{}, testConfig())

	_, err := f.orc.RequestGeneration(context.Background(), models.GenerationTarget{Kind: "video", TargetID: "x", Fingerprint: "fp"}, nil)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = f.orc.RequestGeneration(context.Background(), models.GenerationTarget{Kind: models.KindImage, TargetID: "", Fingerprint: "fp"}, nil)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestRequestGeneration_CacheHit(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, completing("unused", &calls), testConfig())
	target := stepTarget("step-1")
	f.cache.SetResult(context.Background(), target, "ref-cached")

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)

	u := waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusSucceeded, u.Status)
	assert.Equal(t, "ref-cached", u.ResultRef)
	assert.NoError(t, u.Err)
	waitClosed(t, sub)

	assert.Equal(t, models.JobStatusSucceeded, sub.Current())
	assert.Equal(t, int32(0), calls.Load(), "cache hit must not invoke the worker")
	assert.Equal(t, 0, f.orc.ActiveTargets())
}

func TestRequestGeneration_SyncWorkerCompletes(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, completing("ref-1", &calls), testConfig())
	target := stepTarget("step-1")

	sub, err := f.orc.RequestGeneration(context.Background(), target, []byte(`{"prompt":"p"}`))
	require.NoError(t, err)

	u := waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusSucceeded, u.Status)
	assert.Equal(t, "ref-1", u.ResultRef)

	// The cache must already hold the result when the update is delivered.
	ref, ok := f.orc.GetCached(context.Background(), target)
	require.True(t, ok)
	assert.Equal(t, "ref-1", ref)

	waitClosed(t, sub)
	assert.Equal(t, int32(1), calls.Load())

	job, ok := f.store.jobFor(target)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
	require.NotNil(t, job.ResultRef)
	assert.Equal(t, "ref-1", *job.ResultRef)

	require.Eventually(t, func() bool { return f.orc.ActiveTargets() == 0 },
		time.Second, time.Millisecond)
}

func TestRequestGeneration_SecondCallIsCacheHit(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, completing("ref-1", &calls), testConfig())
	target := stepTarget("step-1")

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	waitUpdate(t, sub)
	waitClosed(t, sub)

	sub2, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	u := waitUpdate(t, sub2)
	assert.Equal(t, models.JobStatusSucceeded, u.Status)
	assert.Equal(t, "ref-1", u.ResultRef)
	assert.Equal(t, int32(1), calls.Load(), "second request must be served from cache")
}

func TestSubmit_StampsJobTimestamps(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, accepting(&calls), testConfig())
	target := stepTarget("step-1")

	_, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)

	// The store persists created_at verbatim and orders attempts by it, so
	// the orchestrator must stamp the record before handing it over.
	job := waitJobCreated(t, f, target)
	assert.False(t, job.CreatedAt.IsZero(), "created_at must be set before CreateJob")
	assert.False(t, job.UpdatedAt.IsZero(), "updated_at must be set before CreateJob")
	assert.Equal(t, time.UTC, job.CreatedAt.Location())
}

func TestCompleteSync_StampsJobTimestamps(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, completing("ref-1", &calls), testConfig())
	target := stepTarget("step-1")

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	waitUpdate(t, sub)

	job, ok := f.store.jobFor(target)
	require.True(t, ok)
	assert.False(t, job.CreatedAt.IsZero())
	assert.False(t, job.UpdatedAt.IsZero())
	assert.False(t, job.UpdatedAt.Before(job.CreatedAt))
}

func TestDoubleRequest_SharesOneJob(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, accepting(&calls), testConfig())
	target := stepTarget("step-1")

	sub1, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	sub2, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)

	job := waitJobCreated(t, f, target)
	waitSubscribed(t, f, target)
	assert.Equal(t, 1, f.orc.ActiveTargets())

	publish(t, f, job, models.JobStatusSucceeded, "ref-1", "")

	for _, sub := range []*Subscription{sub1, sub2} {
		u := waitUpdate(t, sub)
		assert.Equal(t, models.JobStatusSucceeded, u.Status)
		assert.Equal(t, "ref-1", u.ResultRef)
		waitClosed(t, sub)
	}

	assert.Equal(t, int32(1), calls.Load(), "both subscriptions must share one submission")
}

func TestTerminalWins_LateTerminalDiscarded(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, accepting(&calls), testConfig())
	target := stepTarget("step-1")

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	job := waitJobCreated(t, f, target)
	waitSubscribed(t, f, target)

	publish(t, f, job, models.JobStatusRunning, "", "")
	u := waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusRunning, u.Status)

	publish(t, f, job, models.JobStatusFailed, "", "model refused")
	u = waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusFailed, u.Status)
	require.Error(t, u.Err)
	assert.ErrorIs(t, u.Err, ErrJobFailed)
	assert.Contains(t, u.Err.Error(), "model refused")

	// A late genuine terminal changes nothing.
	publish(t, f, job, models.JobStatusSucceeded, "ref-late", "")
	waitClosed(t, sub)

	_, ok := f.orc.GetCached(context.Background(), target)
	assert.False(t, ok, "failed jobs must not populate the cache")
	assert.Equal(t, models.JobStatusFailed, sub.Current())
}

func TestDedup_RepeatedNonTerminalDropped(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, accepting(&calls), testConfig())
	target := stepTarget("step-1")

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	job := waitJobCreated(t, f, target)
	waitSubscribed(t, f, target)

	publish(t, f, job, models.JobStatusRunning, "", "")
	publish(t, f, job, models.JobStatusRunning, "", "")
	publish(t, f, job, models.JobStatusRunning, "", "")
	publish(t, f, job, models.JobStatusSucceeded, "ref-1", "")

	u := waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusRunning, u.Status)
	u = waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusSucceeded, u.Status)
	waitClosed(t, sub)
}

func TestTimeout_SyntheticTerminalAndTeardown(t *testing.T) {
	var calls atomic.Int32
	cfg := testConfig()
	cfg.JobTimeout = 60 * time.Millisecond
	f := newFixture(t, accepting(&calls), cfg)
	target := stepTarget("step-1")

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	job := waitJobCreated(t, f, target)

	u := waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusTimedOut, u.Status)
	assert.ErrorIs(t, u.Err, ErrJobTimedOut)
	waitClosed(t, sub)

	// Best-effort persistence of the synthetic terminal.
	require.Eventually(t, func() bool {
		stored, ok := f.store.jobFor(target)
		return ok && stored.Status == models.JobStatusTimedOut
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return f.orc.ActiveTargets() == 0 },
		time.Second, time.Millisecond)

	// A genuine terminal arriving after the timeout is discarded.
	publish(t, f, job, models.JobStatusSucceeded, "ref-late", "")
	_, ok := f.orc.GetCached(context.Background(), target)
	assert.False(t, ok)
	assert.Equal(t, models.JobStatusTimedOut, sub.Current())
}

func TestPushDegradation_PollStillConverges(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, accepting(&calls), testConfig())
	target := stepTarget("step-1")
	scope := target.Scope()

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	waitJobCreated(t, f, target)
	waitSubscribed(t, f, target)

	// First drop: the listener reconnects once.
	f.broker.Fail(scope, errors.New("connection reset"))
	waitSubscribed(t, f, target)

	// Second drop: push is degraded for this target.
	f.broker.Fail(scope, errors.New("connection reset"))
	require.Eventually(t, func() bool {
		f.orc.mu.Lock()
		s, ok := f.orc.targets[target.Key()]
		f.orc.mu.Unlock()
		return ok && s.isPushDegraded()
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, f.broker.Subscribers(scope))

	// The poll loop alone converges to the store's terminal state.
	f.store.setStatus(t, target, models.JobStatusSucceeded, "ref-poll")

	u := waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusSucceeded, u.Status)
	assert.Equal(t, "ref-poll", u.ResultRef)
	waitClosed(t, sub)

	ref, ok := f.orc.GetCached(context.Background(), target)
	require.True(t, ok)
	assert.Equal(t, "ref-poll", ref)
}

func TestSubmit_TransientRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	reg := worker.Registry{models.KindStepContent: &mock.Invoker{
		Name_: "mock",
		InvokeFunc: func(context.Context, *models.Job) (worker.Result, error) {
			if calls.Add(1) < 3 {
				return worker.Result{}, worker.ErrUnavailable
			}
			return worker.Result{ResultRef: "ref-1", Completed: true}, nil
		},
	}}
	f := newFixture(t, reg, testConfig())

	sub, err := f.orc.RequestGeneration(context.Background(), stepTarget("step-1"), nil)
	require.NoError(t, err)

	u := waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusSucceeded, u.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSubmit_ExhaustionReleasesReservation(t *testing.T) {
	var calls atomic.Int32
	reg := worker.Registry{models.KindStepContent: &mock.Invoker{
		Name_: "mock",
		InvokeFunc: func(context.Context, *models.Job) (worker.Result, error) {
			calls.Add(1)
			return worker.Result{}, worker.ErrUnavailable
		},
	}}
	cfg := testConfig()
	cfg.SubmitAttempts = 2
	f := newFixture(t, reg, cfg)
	target := stepTarget("step-1")

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)

	u := waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusFailed, u.Status)
	assert.ErrorIs(t, u.Err, ErrSubmitFailed)
	assert.ErrorIs(t, u.Err, worker.ErrUnavailable)
	waitClosed(t, sub)

	assert.Equal(t, int32(2), calls.Load())
	_, ok := f.store.jobFor(target)
	assert.False(t, ok, "exhausted submission must not write a job record")

	// The reservation is released: a new request submits again.
	sub2, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	u = waitUpdate(t, sub2)
	assert.Equal(t, models.JobStatusFailed, u.Status)
	assert.Equal(t, int32(4), calls.Load())
}

func TestSubmit_FatalRejectionFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	reg := worker.Registry{models.KindStepContent: &mock.Invoker{
		Name_: "mock",
		InvokeFunc: func(context.Context, *models.Job) (worker.Result, error) {
			calls.Add(1)
			return worker.Result{}, worker.ErrRejected
		},
	}}
	f := newFixture(t, reg, testConfig())

	sub, err := f.orc.RequestGeneration(context.Background(), stepTarget("step-1"), nil)
	require.NoError(t, err)

	u := waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusFailed, u.Status)
	assert.ErrorIs(t, u.Err, ErrSubmitFailed)
	assert.Equal(t, int32(1), calls.Load(), "fatal rejections must not retry")
}

func TestCancel_SilentTeardown(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, accepting(&calls), testConfig())
	target := stepTarget("step-1")

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	waitJobCreated(t, f, target)

	f.orc.Cancel(target)
	waitClosed(t, sub)
	assert.Equal(t, 0, f.orc.ActiveTargets())

	// Idempotent.
	f.orc.Cancel(target)

	// A later request is a fresh start; the live job in the store is adopted.
	sub2, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	f.store.setStatus(t, target, models.JobStatusSucceeded, "ref-2")
	u := waitUpdate(t, sub2)
	assert.Equal(t, models.JobStatusSucceeded, u.Status)
	assert.Equal(t, int32(1), calls.Load(), "adoption must not resubmit")
}

func TestSubscriptionCancel_DetachesOnlyCaller(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, accepting(&calls), testConfig())
	target := stepTarget("step-1")

	sub1, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	sub2, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	job := waitJobCreated(t, f, target)
	waitSubscribed(t, f, target)

	sub1.Cancel()
	waitClosed(t, sub1)

	publish(t, f, job, models.JobStatusSucceeded, "ref-1", "")
	u := waitUpdate(t, sub2)
	assert.Equal(t, models.JobStatusSucceeded, u.Status)
}

func TestAdopt_ExistingLiveJob(t *testing.T) {
	reg := worker.Registry{models.KindStepContent: mock.NewFailing(errors.New("must not be called"))}
	f := newFixture(t, reg, testConfig())
	target := stepTarget("step-1")

	seeded := &models.Job{
		ID:          uuid.New(),
		Kind:        target.Kind,
		TargetID:    target.TargetID,
		Fingerprint: target.Fingerprint,
		Status:      models.JobStatusRunning,
	}
	require.NoError(t, f.store.CreateJob(context.Background(), seeded))

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)

	u := waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusRunning, u.Status)

	f.store.setStatus(t, target, models.JobStatusSucceeded, "ref-adopted")
	u = waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusSucceeded, u.Status)
	assert.Equal(t, "ref-adopted", u.ResultRef)
	waitClosed(t, sub)
}

func TestAdopt_SucceededJobRepairsCache(t *testing.T) {
	reg := worker.Registry{models.KindStepContent: mock.NewFailing(errors.New("must not be called"))}
	f := newFixture(t, reg, testConfig())
	target := stepTarget("step-1")

	ref := "ref-old"
	seeded := &models.Job{
		ID:          uuid.New(),
		Kind:        target.Kind,
		TargetID:    target.TargetID,
		Fingerprint: target.Fingerprint,
		Status:      models.JobStatusSucceeded,
		ResultRef:   &ref,
	}
	require.NoError(t, f.store.CreateJob(context.Background(), seeded))

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)

	u := waitUpdate(t, sub)
	assert.Equal(t, models.JobStatusSucceeded, u.Status)
	assert.Equal(t, "ref-old", u.ResultRef)

	got, ok := f.orc.GetCached(context.Background(), target)
	require.True(t, ok)
	assert.Equal(t, "ref-old", got)
}

func TestInvalidate_ClearsCache(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, completing("ref-1", &calls), testConfig())
	target := stepTarget("step-1")

	sub, err := f.orc.RequestGeneration(context.Background(), target, nil)
	require.NoError(t, err)
	waitUpdate(t, sub)

	_, ok := f.orc.GetCached(context.Background(), target)
	require.True(t, ok)

	f.orc.Invalidate(context.Background(), target)
	_, ok = f.orc.GetCached(context.Background(), target)
	assert.False(t, ok)
}

func TestClose_RejectsNewRequests(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, accepting(&calls), testConfig())

	f.orc.Close()
	_, err := f.orc.RequestGeneration(context.Background(), stepTarget("step-1"), nil)
	assert.ErrorIs(t, err, ErrClosed)
}
