package models

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"

	"github.com/spachava753/simeval/internal/codec"
)

// TrialSpec is the immutable input for one simulated attempt at a task.
type TrialSpec struct {
	ID             string   `json:"id" cbor:"id"`
	Suite          string   `json:"suite" cbor:"suite"`
	TaskID         string   `json:"task_id" cbor:"task_id"`
	Seed           int64    `json:"seed" cbor:"seed"`
	Objects        []string `json:"objects" cbor:"objects"`
	Target         string   `json:"target" cbor:"target"`
	Instruction    string   `json:"instruction" cbor:"instruction"`
	FloorStyle     string   `json:"floor_style,omitempty" cbor:"floor_style,omitempty"`
	WallStyle      string   `json:"wall_style,omitempty" cbor:"wall_style,omitempty"`
	MaxSteps       int      `json:"max_steps" cbor:"max_steps"`
	StabilizeSteps int      `json:"stabilize_steps" cbor:"stabilize_steps"`
}

// Fingerprint returns a stable identifier derived from every field except ID.
// Two specs with equal content share a fingerprint.
func (s TrialSpec) Fingerprint() string {
	s.ID = ""
	data, err := codec.Marshal(s)
	if err != nil {
		// Plain strings and ints always encode.
		panic("models: encoding trial spec: " + err.Error())
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// WithID returns a copy of s whose ID is its fingerprint.
func (s TrialSpec) WithID() TrialSpec {
	s.ID = s.Fingerprint()
	return s
}

// TrialOutcome is the single result recorded for a dispatched TrialSpec.
type TrialOutcome struct {
	Spec          TrialSpec     `json:"spec" cbor:"spec"`
	Success       bool          `json:"success" cbor:"success"`
	StepCount     int           `json:"step_count" cbor:"step_count"`
	FailureReason FailureReason `json:"failure_reason,omitempty" cbor:"failure_reason,omitempty"`
	Message       string        `json:"message,omitempty" cbor:"message,omitempty"`
	WorkerID      int           `json:"worker_id" cbor:"worker_id"`
	StartedAt     time.Time     `json:"started_at" cbor:"started_at"`
	EndedAt       time.Time     `json:"ended_at" cbor:"ended_at"`
	DurationSec   float64       `json:"duration_sec" cbor:"duration_sec"`
}

// Failed builds an outcome that failed for reason.
func Failed(spec TrialSpec, reason FailureReason, message string) TrialOutcome {
	return TrialOutcome{Spec: spec, FailureReason: reason, Message: message}
}
