package model

import (
	"time"

	"github.com/google/uuid"
)

// RetryAttempt is one entry in a record's retry history.
type RetryAttempt struct {
	Attempt int           `json:"attempt"`
	At      time.Time     `json:"at"`
	Reason  string        `json:"reason"`
	Delay   time.Duration `json:"delay"`
}

// DeadLetterEntry is an envelope that permanently failed processing, kept
// outside the main pipeline for inspection and replay.
type DeadLetterEntry struct {
	ID           string         `json:"id"`
	Envelope     *Envelope      `json:"envelope"`
	Reason       string         `json:"reason"`
	Error        string         `json:"error"`
	Attempts     []RetryAttempt `json:"attempts,omitempty"`
	FirstFailure time.Time      `json:"first_failure"`
	LastFailure  time.Time      `json:"last_failure"`
}

// NewDeadLetterEntry builds an entry for a terminally failed envelope.
func NewDeadLetterEntry(env *Envelope, reason, errText string, attempts []RetryAttempt) *DeadLetterEntry {
	now := time.Now().UTC()
	first := now
	if len(attempts) > 0 {
		first = attempts[0].At
	}
	return &DeadLetterEntry{
		ID:           uuid.New().String(),
		Envelope:     env,
		Reason:       reason,
		Error:        errText,
		Attempts:     attempts,
		FirstFailure: first,
		LastFailure:  now,
	}
}
