package orchestrator

import (
	"sync"
	"time"
)

// throttle coalesces push observations into at most one emit per window.
// Non-terminal observations arriving inside the window replace each other
// and the most recent is emitted when the window elapses. Terminal
// observations bypass the window entirely.
type throttle struct {
	window time.Duration
	emit   func(observation)

	mu       sync.Mutex
	lastEmit time.Time
	pending  *observation
	timer    *time.Timer
}

func newThrottle(window time.Duration, emit func(observation)) *throttle {
	return &throttle{window: window, emit: emit}
}

func (t *throttle) offer(obs observation) {
	if obs.status.Terminal() {
		t.mu.Lock()
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		t.pending = nil
		t.lastEmit = time.Now()
		t.mu.Unlock()
		t.emit(obs)
		return
	}

	t.mu.Lock()
	now := time.Now()
	if now.Sub(t.lastEmit) >= t.window {
		t.lastEmit = now
		t.mu.Unlock()
		t.emit(obs)
		return
	}

	t.pending = &obs
	if t.timer == nil {
		t.timer = time.AfterFunc(t.window-now.Sub(t.lastEmit), t.fire)
	}
	t.mu.Unlock()
}

func (t *throttle) fire() {
	t.mu.Lock()
	obs := t.pending
	t.pending = nil
	t.timer = nil
	if obs != nil {
		t.lastEmit = time.Now()
	}
	t.mu.Unlock()

	if obs != nil {
		t.emit(*obs)
	}
}

func (t *throttle) stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
	t.mu.Unlock()
}
