// Package router classifies processing failures and routes them to retry or
// the dead-letter store.
package router

import (
	"context"
	"errors"
	"net"

	"github.com/veildata-systems/veilpipe/internal/anonymize"
	"github.com/veildata-systems/veilpipe/internal/buffer"
	"github.com/veildata-systems/veilpipe/internal/compliance"
	"github.com/veildata-systems/veilpipe/internal/quality"
	"github.com/veildata-systems/veilpipe/internal/source"
)

// Class is the routing decision for an error.
type Class int

const (
	// ClassRetryable errors (connectivity, timeouts, rate limits) re-enter
	// the buffer with backoff.
	ClassRetryable Class = iota
	// ClassNonRetryable errors (validation, compliance, malformed data) go
	// straight to the dead-letter store.
	ClassNonRetryable
	// ClassFatal errors halt the affected component.
	ClassFatal
	// ClassDuplicate errors are dropped with a counter increment.
	ClassDuplicate
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassNonRetryable:
		return "non_retryable"
	case ClassFatal:
		return "fatal"
	case ClassDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Classify maps an error to its routing class.
func Classify(err error) Class {
	if err == nil {
		return ClassRetryable
	}

	if errors.Is(err, buffer.ErrDuplicate) {
		return ClassDuplicate
	}
	if errors.Is(err, source.ErrSlotMissing) {
		return ClassFatal
	}

	var connErr *source.ConnectionError
	if errors.As(err, &connErr) {
		return ClassRetryable
	}
	var anonErr *anonymize.Error
	if errors.As(err, &anonErr) {
		return ClassNonRetryable
	}
	var violation *compliance.ViolationError
	if errors.As(err, &violation) {
		return ClassNonRetryable
	}
	var threshold *quality.ThresholdError
	if errors.As(err, &threshold) {
		if threshold.Transient {
			return ClassRetryable
		}
		return ClassNonRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, buffer.ErrBackpressure) {
		return ClassRetryable
	}

	// Unknown errors are treated as non-retryable so malformed data cannot
	// cycle through the pipeline forever.
	return ClassNonRetryable
}

// FailureReason returns a short label for metrics and dead-letter entries.
func FailureReason(err error) string {
	if err == nil {
		return "unknown"
	}
	var connErr *source.ConnectionError
	var anonErr *anonymize.Error
	var violation *compliance.ViolationError
	var threshold *quality.ThresholdError
	var netErr net.Error

	switch {
	case errors.Is(err, buffer.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, source.ErrSlotMissing):
		return "slot_missing"
	case errors.As(err, &anonErr):
		return "anonymization_failure"
	case errors.As(err, &violation):
		return "compliance_violation"
	case errors.As(err, &threshold):
		return "quality_below_threshold"
	case errors.As(err, &connErr):
		return "connectivity"
	case errors.As(err, &netErr) && netErr.Timeout(), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr):
		return "connectivity"
	case errors.Is(err, buffer.ErrBackpressure):
		return "backpressure"
	default:
		return "processing_error"
	}
}
