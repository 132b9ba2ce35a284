// Package model defines the record envelope and the types that flow through
// the pipeline: batches, processing results, checkpoints and dead letters.
package model

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// EventType identifies the upstream operation that produced a record.
type EventType string

const (
	EventInsert  EventType = "insert"
	EventUpdate  EventType = "update"
	EventDelete  EventType = "delete"
	EventExtract EventType = "extract" // bulk extraction rows
)

// Priority orders records of equal age inside the buffer.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// ParsePriority converts a string priority to Priority.
// Returns PriorityNormal for unknown values.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// Envelope is the common record shape produced by the normalizer.
// After creation only Retries and the processing timestamps change.
type Envelope struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	EventType EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	SchemaTag string                 `json:"schema_tag"`
	Priority  Priority               `json:"priority"`
	Retries   int                    `json:"retries"`
	Checksum  string                 `json:"checksum"`

	// Position is the source cursor of the originating change; it feeds
	// checkpointing and is deliberately excluded from the checksum so that
	// identical payloads dedupe regardless of where they were observed.
	Position int64  `json:"position"`
	Table    string `json:"table,omitempty"`

	EnqueuedAt      time.Time `json:"enqueued_at,omitempty"`
	ProcessingStart time.Time `json:"processing_start,omitempty"`
	ProcessingEnd   time.Time `json:"processing_end,omitempty"`
}

// NewEnvelope builds an envelope with a fresh ID and payload checksum.
func NewEnvelope(source string, eventType EventType, payload map[string]interface{}, schemaTag string, priority Priority) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Payload:   payload,
		SchemaTag: schemaTag,
		Priority:  priority,
		Checksum:  PayloadChecksum(payload),
	}
}

// PayloadChecksum returns the hex-encoded blake2b-256 digest of the payload.
// json.Marshal emits map keys in sorted order, so the digest is stable for
// equal payloads regardless of insertion order.
func PayloadChecksum(payload map[string]interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads come from JSON decoding or map literals; a marshal failure
		// means a non-serializable value sneaked in. Hash the error text so
		// two such payloads still dedupe against each other, not against
		// valid records.
		data = []byte("unserializable:" + err.Error())
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether the stored checksum still matches the payload.
func (e *Envelope) VerifyChecksum() bool {
	return e.Checksum == PayloadChecksum(e.Payload)
}

// Clone returns a deep-enough copy for retry resubmission: the payload map is
// shared (stages never mutate their input), bookkeeping fields are reset.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.ProcessingStart = time.Time{}
	c.ProcessingEnd = time.Time{}
	return &c
}

// WithPayload returns a copy carrying payload, with the checksum recomputed to
// match. The receiver is unchanged: queued envelopes are immutable apart from
// retry counts and timestamps, so a transformed payload leaves the pipeline
// on a copy.
func (e *Envelope) WithPayload(payload map[string]interface{}) *Envelope {
	c := *e
	c.Payload = payload
	c.Checksum = PayloadChecksum(payload)
	return &c
}
