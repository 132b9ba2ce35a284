package model

import (
	"time"

	"github.com/google/uuid"
)

// Counters aggregates pipeline totals carried inside checkpoints.
type Counters struct {
	Processed    uint64 `json:"processed"`
	Succeeded    uint64 `json:"succeeded"`
	Failed       uint64 `json:"failed"`
	Retried      uint64 `json:"retried"`
	DeadLettered uint64 `json:"dead_lettered"`
	Duplicates   uint64 `json:"duplicates"`
	Skipped      uint64 `json:"skipped"`
}

// Checkpoint is a durable progress marker. Positions are strictly monotonic;
// a checkpoint is sufficient to resume without reprocessing committed work
// (at-least-once: records after the position may be redelivered).
type Checkpoint struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Position    int64             `json:"position"`
	Counters    Counters          `json:"counters"`
	ResumeState map[string]string `json:"resume_state,omitempty"`
}

// NewCheckpoint builds a checkpoint at the given source position.
func NewCheckpoint(position int64, counters Counters, resumeState map[string]string) *Checkpoint {
	return &Checkpoint{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Position:    position,
		Counters:    counters,
		ResumeState: resumeState,
	}
}
