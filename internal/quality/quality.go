// Package quality defines the data quality collaborator contract and a
// completeness-based default scorer.
package quality

import (
	"context"
	"fmt"
	"strings"
)

// Issue describes one quality finding.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Issue codes produced by the default scorer.
const (
	CodeMissingValue     = "missing_value"
	CodeEmptyPayload     = "empty_payload"
	CodeMissingReference = "missing_reference"
)

// Assessment is the side-effect-free result of scoring a payload.
type Assessment struct {
	Score  float64 `json:"score"`
	Issues []Issue `json:"issues,omitempty"`
}

// ThresholdError reports a below-threshold score. Transient failures (missing
// reference data that may arrive later) are retryable; structural ones are not.
type ThresholdError struct {
	Score     float64
	Threshold float64
	Transient bool
	Issues    []Issue
}

func (e *ThresholdError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("quality score %.2f below threshold %.2f (%s, %d issues)", e.Score, e.Threshold, kind, len(e.Issues))
}

// Assessor is the quality service contract.
type Assessor interface {
	Assess(ctx context.Context, payload map[string]interface{}, schemaTag string) (*Assessment, error)
}

// CompletenessAssessor scores payloads by the fraction of populated fields.
// Fields whose name ends in "_ref" or "_id" and are empty count as missing
// reference data, which marks the assessment transient.
type CompletenessAssessor struct{}

// Assess returns the completeness score and per-field issues.
func (a *CompletenessAssessor) Assess(ctx context.Context, payload map[string]interface{}, schemaTag string) (*Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return &Assessment{
			Score:  0,
			Issues: []Issue{{Code: CodeEmptyPayload, Message: "payload has no fields"}},
		}, nil
	}

	var issues []Issue
	populated := 0
	for field, value := range payload {
		if isPopulated(value) {
			populated++
			continue
		}
		code := CodeMissingValue
		if isReferenceField(field) {
			code = CodeMissingReference
		}
		issues = append(issues, Issue{
			Field:   field,
			Code:    code,
			Message: fmt.Sprintf("field %q is empty", field),
		})
	}

	return &Assessment{
		Score:  float64(populated) / float64(len(payload)),
		Issues: issues,
	}, nil
}

// Transient reports whether the assessment's failures can resolve on retry.
func (a *Assessment) Transient() bool {
	for _, issue := range a.Issues {
		if issue.Code == CodeMissingReference {
			return true
		}
	}
	return false
}

func isPopulated(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return true
	}
}

func isReferenceField(field string) bool {
	lower := strings.ToLower(field)
	return strings.HasSuffix(lower, "_ref") || strings.HasSuffix(lower, "_id")
}
