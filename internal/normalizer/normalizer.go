// Package normalizer converts raw source records into the common envelope.
package normalizer

import (
	"fmt"

	"github.com/veildata-systems/veilpipe/internal/model"
	"github.com/veildata-systems/veilpipe/internal/source"
)

// Normalizer stamps raw records with the source label and schema tag and
// assigns the priority tier.
type Normalizer struct {
	sourceLabel string
	schemaTag   string
}

// New creates a normalizer for one source.
func New(sourceLabel, schemaTag string) *Normalizer {
	return &Normalizer{sourceLabel: sourceLabel, schemaTag: schemaTag}
}

// Normalize builds an envelope from a raw record. The payload map is adopted,
// not copied; the source must not reuse it.
func (n *Normalizer) Normalize(record *source.RawRecord) (*model.Envelope, error) {
	if record == nil {
		return nil, fmt.Errorf("nil raw record")
	}
	if record.Data == nil {
		return nil, fmt.Errorf("raw record at position %d has no data", record.Position)
	}

	env := model.NewEnvelope(
		n.sourceLabel,
		eventType(record.Operation),
		record.Data,
		n.schemaTag,
		priority(record.Operation),
	)
	if !record.OccurredAt.IsZero() {
		env.Timestamp = record.OccurredAt.UTC()
	}
	env.Position = record.Position
	env.Table = record.Table

	return env, nil
}

func eventType(operation string) model.EventType {
	switch operation {
	case "insert":
		return model.EventInsert
	case "update":
		return model.EventUpdate
	case "delete":
		return model.EventDelete
	default:
		return model.EventExtract
	}
}

// Deletes carry erasure obligations, so they jump the priority tier.
func priority(operation string) model.Priority {
	switch operation {
	case "delete":
		return model.PriorityHigh
	case "extract", "":
		return model.PriorityLow
	default:
		return model.PriorityNormal
	}
}
