// Package compliance defines the compliance collaborator contract and a
// rule-based default validator.
package compliance

import (
	"context"
	"fmt"
	"strings"
)

// Decision is the side-effect-free result of compliance validation.
type Decision struct {
	Compliant  bool     `json:"compliant"`
	Violations []string `json:"violations,omitempty"`
}

// ViolationError reports a compliance violation. Always non-retryable; the
// record is held for review, never silently dropped.
type ViolationError struct {
	Regulations []string
	Violations  []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("compliance violation under %s: %s",
		strings.Join(e.Regulations, ","), strings.Join(e.Violations, "; "))
}

// Validator is the compliance service contract.
type Validator interface {
	Validate(ctx context.Context, payload map[string]interface{}, schemaTag string, regulations []string) (*Decision, error)
}

// RuleValidator is the default Validator. It checks that direct identifiers
// did not survive anonymization and that regulation-specific marker fields
// are present.
type RuleValidator struct {
	// ForbiddenFields must not appear with a readable value post-anonymization.
	ForbiddenFields []string
}

// DefaultForbiddenFields are identifiers that must be masked or hashed
// before a record may leave the pipeline.
var DefaultForbiddenFields = []string{
	"ssn", "social_security_number", "credit_card", "card_number", "password",
}

// NewRuleValidator builds a RuleValidator with the default field rules.
func NewRuleValidator() *RuleValidator {
	return &RuleValidator{ForbiddenFields: DefaultForbiddenFields}
}

// Validate applies the configured rules for each regulation.
func (v *RuleValidator) Validate(ctx context.Context, payload map[string]interface{}, schemaTag string, regulations []string) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var violations []string
	for _, field := range v.ForbiddenFields {
		value, ok := lookupFold(payload, field)
		if !ok {
			continue
		}
		if s, isString := value.(string); isString && (s == "[REDACTED]" || strings.HasPrefix(s, "anon:")) {
			continue
		}
		violations = append(violations, fmt.Sprintf("field %q contains an unmasked identifier", field))
	}

	for _, reg := range regulations {
		switch strings.ToLower(reg) {
		case "gdpr":
			if _, ok := lookupFold(payload, "consent"); !ok {
				violations = append(violations, "gdpr: consent marker missing")
			}
		case "hipaa":
			if _, ok := lookupFold(payload, "covered_entity"); !ok {
				violations = append(violations, "hipaa: covered_entity marker missing")
			}
		}
	}

	return &Decision{
		Compliant:  len(violations) == 0,
		Violations: violations,
	}, nil
}

func lookupFold(payload map[string]interface{}, field string) (interface{}, bool) {
	for key, value := range payload {
		if strings.EqualFold(key, field) {
			return value, true
		}
	}
	return nil, false
}
