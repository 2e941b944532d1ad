// Package models contains shared data models used across the GenFlow codebase.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// TargetKind identifies the modality of a generation target.
type TargetKind string

const (
	KindStepContent  TargetKind = "step_content"
	KindPodcastAudio TargetKind = "podcast_audio"
	KindImage        TargetKind = "image"
)

// Valid reports whether k is a known target kind.
func (k TargetKind) Valid() bool {
	switch k {
	case KindStepContent, KindPodcastAudio, KindImage:
		return true
	}
	return false
}

// GenerationTarget is the unit of work identity: two requests with the same
// (Kind, TargetID, Fingerprint) are the same logical job, regardless of how
// many job attempts the target accumulates over time. Immutable once created.
type GenerationTarget struct {
	Kind        TargetKind `json:"kind"`
	TargetID    string     `json:"target_id"`
	Fingerprint string     `json:"fingerprint"`
}

// Key returns the composite identity string used for cache and registry keys.
func (t GenerationTarget) Key() string {
	return fmt.Sprintf("%s:%s:%s", t.Kind, t.TargetID, t.Fingerprint)
}

// Scope returns the change-notification channel name for this target.
func (t GenerationTarget) Scope() string {
	return "genflow:jobs:" + t.Key()
}

// Fingerprint hashes generation parameters (voice, prompt, model, ...) into a
// stable hex digest. encoding/json sorts map keys, so the encoding is
// canonical for a flat parameter map.
func Fingerprint(params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", params))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
