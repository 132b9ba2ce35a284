package model

import "time"

// ProcessingResult records the terminal outcome of one processing attempt.
// Exactly one result exists per attempted record.
type ProcessingResult struct {
	RecordID string        `json:"record_id"`
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`

	// Output holds the transformed payload on success.
	Output map[string]interface{} `json:"output,omitempty"`

	// FailureReason and Retryable classify a failed attempt;
	// FailureDetail carries the underlying error text.
	FailureReason string `json:"failure_reason,omitempty"`
	FailureDetail string `json:"failure_detail,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`

	// StageElapsed reports per-stage durations, keyed by stage name.
	StageElapsed map[string]time.Duration `json:"stage_elapsed,omitempty"`
}

// SuccessResult builds a successful result.
func SuccessResult(recordID string, output map[string]interface{}, elapsed time.Duration) *ProcessingResult {
	return &ProcessingResult{
		RecordID: recordID,
		Success:  true,
		Output:   output,
		Elapsed:  elapsed,
	}
}

// FailureResult builds a failed result with its classification.
func FailureResult(recordID, reason string, retryable bool, elapsed time.Duration) *ProcessingResult {
	return &ProcessingResult{
		RecordID:      recordID,
		FailureReason: reason,
		Retryable:     retryable,
		Elapsed:       elapsed,
	}
}

// SkippedResult marks a record discarded before its pipeline started
// (executor cancellation or shutdown drain).
func SkippedResult(recordID string) *ProcessingResult {
	return &ProcessingResult{
		RecordID: recordID,
		Skipped:  true,
	}
}
