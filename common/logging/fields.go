package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldComponent  = "component"
	FieldRecordID   = "record_id"
	FieldBatchID    = "batch_id"
	FieldSource     = "source"
	FieldCursor     = "cursor"
	FieldCheckpoint = "checkpoint_id"
	FieldReason     = "reason"
	FieldAttempt    = "attempt"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
)

// Component returns a slog attribute for the component name.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// RecordID returns a slog attribute for a record envelope ID.
func RecordID(id string) slog.Attr {
	return slog.String(FieldRecordID, id)
}

// BatchID returns a slog attribute for a batch ID.
func BatchID(id string) slog.Attr {
	return slog.String(FieldBatchID, id)
}

// Source returns a slog attribute for the source label.
func Source(name string) slog.Attr {
	return slog.String(FieldSource, name)
}

// Cursor returns a slog attribute for a source cursor position.
func Cursor(pos int64) slog.Attr {
	return slog.Int64(FieldCursor, pos)
}

// CheckpointID returns a slog attribute for a checkpoint ID.
func CheckpointID(id string) slog.Attr {
	return slog.String(FieldCheckpoint, id)
}

// Reason returns a slog attribute for a failure reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
