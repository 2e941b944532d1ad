package orchestrator

import (
	"github.com/wavelearn/genflow/internal/notify"
)

// runListener subscribes to push notifications for the target and feeds them
// through the coalescing throttle. A dropped subscription is re-established
// once; if it drops again the target is marked push-degraded and the poll
// loop alone converges state.
func (o *Orchestrator) runListener(s *syncState) {
	defer o.wg.Done()

	th := newThrottle(o.cfg.PushThrottle, s.observe)
	defer th.stop()

	handler := func(c notify.Change) {
		// Scopes are per-target, but a misrouted event must not corrupt
		// another target's state.
		if c.Target() != s.target {
			return
		}
		th.offer(observationFromChange(c))
	}

	const maxSubscribes = 2
	for attempt := 1; attempt <= maxSubscribes; attempt++ {
		h, err := o.transport.Subscribe(s.ctx, s.target.Scope(), handler)
		if err != nil {
			o.logger.Warn("push subscribe failed",
				"target", s.target.Key(),
				"attempt", attempt,
				"error", err)
			continue
		}

		select {
		case <-s.ctx.Done():
			h.Close()
			return
		case <-h.Done():
			if h.Err() == nil {
				return
			}
			o.logger.Warn("push subscription dropped",
				"target", s.target.Key(),
				"attempt", attempt,
				"error", h.Err())
		}
	}

	s.markPushDegraded()
	o.logger.Warn("push degraded, converging on poll fallback only",
		"target", s.target.Key())
}
