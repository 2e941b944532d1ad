package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavelearn/genflow/pkg/models"
)

type emitRecorder struct {
	mu   sync.Mutex
	seen []observation
}

func (r *emitRecorder) emit(obs observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, obs)
}

func (r *emitRecorder) statuses() []models.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.JobStatus, len(r.seen))
	for i, obs := range r.seen {
		out[i] = obs.status
	}
	return out
}

func TestThrottle_FirstObservationPassesImmediately(t *testing.T) {
	rec := &emitRecorder{}
	th := newThrottle(time.Hour, rec.emit)
	defer th.stop()

	th.offer(observation{status: models.JobStatusRunning})
	assert.Equal(t, []models.JobStatus{models.JobStatusRunning}, rec.statuses())
}

func TestThrottle_CoalescesWithinWindow(t *testing.T) {
	rec := &emitRecorder{}
	th := newThrottle(50*time.Millisecond, rec.emit)
	defer th.stop()

	th.offer(observation{status: models.JobStatusRunning})
	// Inside the window: both replaced by the most recent.
	th.offer(observation{status: models.JobStatusQueued})
	th.offer(observation{status: models.JobStatusRunning, resultRef: "marker"})

	assert.Len(t, rec.statuses(), 1)

	require.Eventually(t, func() bool { return len(rec.statuses()) == 2 },
		time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	last := rec.seen[1]
	rec.mu.Unlock()
	assert.Equal(t, models.JobStatusRunning, last.status)
	assert.Equal(t, "marker", last.resultRef, "the most recent pending observation wins")
}

func TestThrottle_TerminalBypassesWindow(t *testing.T) {
	rec := &emitRecorder{}
	th := newThrottle(time.Hour, rec.emit)
	defer th.stop()

	th.offer(observation{status: models.JobStatusRunning})
	th.offer(observation{status: models.JobStatusQueued}) // pending, window open
	th.offer(observation{status: models.JobStatusSucceeded, resultRef: "ref"})

	statuses := rec.statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, models.JobStatusRunning, statuses[0])
	assert.Equal(t, models.JobStatusSucceeded, statuses[1])

	// The coalesced non-terminal pending at terminal time is dropped, not
	// flushed later.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.statuses(), 2)
}

func TestThrottle_StopDropsPending(t *testing.T) {
	rec := &emitRecorder{}
	th := newThrottle(30*time.Millisecond, rec.emit)

	th.offer(observation{status: models.JobStatusRunning})
	th.offer(observation{status: models.JobStatusQueued})
	th.stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []models.JobStatus{models.JobStatusRunning}, rec.statuses())
}
