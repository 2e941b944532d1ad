package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates the job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// Terminal reports whether no further transitions can occur from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusTimedOut:
		return true
	}
	return false
}

// Job is one attempt to fulfill a generation target. A job ID is distinct
// from the target identity: a target may accumulate multiple attempts over
// time. Jobs are mutated only through the store, by the worker completion
// callback and by the orchestrator's own terminal-timeout transition.
type Job struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	Kind         TargetKind      `db:"kind"          json:"kind"`
	TargetID     string          `db:"target_id"     json:"target_id"`
	Fingerprint  string          `db:"fingerprint"   json:"fingerprint"`
	Status       JobStatus       `db:"status"        json:"status"`
	Payload      json.RawMessage `db:"payload"       json:"payload,omitempty"`
	ResultRef    *string         `db:"result_ref"    json:"result_ref,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}

// Target returns the generation target this job is an attempt for.
func (j *Job) Target() GenerationTarget {
	return GenerationTarget{Kind: j.Kind, TargetID: j.TargetID, Fingerprint: j.Fingerprint}
}
