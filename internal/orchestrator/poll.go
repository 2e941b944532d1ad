package orchestrator

import (
	"context"
	"time"

	"github.com/wavelearn/genflow/pkg/models"
)

// runPoll reads the job record at a fixed interval and forwards observed
// statuses. It runs regardless of push health and bounds the worst-case
// wait: when the job timeout elapses without a terminal status, it reports
// a synthetic timed_out and best-effort persists it.
func (o *Orchestrator) runPoll(s *syncState) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(o.cfg.JobTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-deadline.C:
			o.persistTimeout(s)
			s.observe(observation{status: models.JobStatusTimedOut, err: ErrJobTimedOut})
			return

		case <-ticker.C:
			id, ok := s.job()
			if !ok {
				continue
			}
			job, err := o.store.GetJob(s.ctx, id)
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				o.logger.Warn("poll read failed",
					"target", s.target.Key(),
					"job_id", id,
					"error", err)
				continue
			}
			s.observe(observationFromJob(job))
			if job.Status.Terminal() {
				return
			}
		}
	}
}

// persistTimeout records the synthetic timed_out on the job row so later
// probes agree with what subscribers were told. The subscription outcome
// does not depend on this write succeeding.
func (o *Orchestrator) persistTimeout(s *syncState) {
	id, ok := s.job()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.UpdateJobStatus(ctx, id, models.JobStatusTimedOut); err != nil {
		o.logger.Warn("persisting timeout failed",
			"target", s.target.Key(),
			"job_id", id,
			"error", err)
	}
}
