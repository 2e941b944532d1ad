package orchestrator

import "errors"

// ErrClosed is returned by RequestGeneration after Close.
var ErrClosed = errors.New("orchestrator closed")

// ErrInvalidTarget is returned for a target with an unknown kind or an empty
// identity field.
var ErrInvalidTarget = errors.New("invalid generation target")

// ErrSubmitFailed wraps the cause of a submission that never produced a job:
// a fatal worker rejection or retry exhaustion. The target is immediately
// eligible for resubmission.
var ErrSubmitFailed = errors.New("job submission failed")

// ErrJobFailed wraps the worker-reported failure reason of a job that ran
// and failed.
var ErrJobFailed = errors.New("generation failed")

// ErrJobTimedOut is the synthetic terminal error reported when a job
// produced no terminal status within the job timeout. It is final for the
// subscription; a genuine terminal arriving later is discarded.
var ErrJobTimedOut = errors.New("generation timed out")
