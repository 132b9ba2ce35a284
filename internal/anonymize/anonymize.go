// Package anonymize defines the anonymization collaborator contract and a
// field-masking default implementation.
package anonymize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Error reports an anonymization failure. Always non-retryable: the same
// payload will fail the same way on redelivery.
type Error struct {
	RecordType string
	Field      string
	Reason     string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("anonymization failed for %s field %q: %s", e.RecordType, e.Field, e.Reason)
	}
	return fmt.Sprintf("anonymization failed for %s: %s", e.RecordType, e.Reason)
}

// Transformer is the anonymization service contract. Implementations must not
// mutate the input payload.
type Transformer interface {
	Transform(ctx context.Context, payload map[string]interface{}, recordType string) (map[string]interface{}, error)
}

// Masker is the default Transformer: direct identifiers are replaced with a
// fixed mask, quasi-identifiers are replaced with a salted hash so equal
// values stay linkable without being readable.
type Masker struct {
	salt string

	maskFields map[string]struct{}
	hashFields map[string]struct{}
}

// DefaultMaskFields are dropped outright.
var DefaultMaskFields = []string{
	"ssn", "social_security_number", "password", "credit_card", "card_number", "cvv",
}

// DefaultHashFields keep linkability via hashing.
var DefaultHashFields = []string{
	"email", "phone", "name", "first_name", "last_name", "address", "ip", "ip_address", "date_of_birth", "dob",
}

// NewMasker builds a Masker. Empty field lists fall back to the defaults.
func NewMasker(salt string, maskFields, hashFields []string) *Masker {
	if len(maskFields) == 0 {
		maskFields = DefaultMaskFields
	}
	if len(hashFields) == 0 {
		hashFields = DefaultHashFields
	}
	m := &Masker{
		salt:       salt,
		maskFields: make(map[string]struct{}, len(maskFields)),
		hashFields: make(map[string]struct{}, len(hashFields)),
	}
	for _, f := range maskFields {
		m.maskFields[strings.ToLower(f)] = struct{}{}
	}
	for _, f := range hashFields {
		m.hashFields[strings.ToLower(f)] = struct{}{}
	}
	return m
}

const masked = "[REDACTED]"

// Transform returns a copy of payload with sensitive fields masked or hashed.
func (m *Masker) Transform(ctx context.Context, payload map[string]interface{}, recordType string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, &Error{RecordType: recordType, Reason: "nil payload"}
	}

	out := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		lower := strings.ToLower(key)
		switch {
		case m.isMasked(lower):
			out[key] = masked
		case m.isHashed(lower):
			s, ok := value.(string)
			if !ok {
				s = fmt.Sprintf("%v", value)
			}
			out[key] = m.hash(s)
		default:
			out[key] = value
		}
	}
	return out, nil
}

func (m *Masker) isMasked(field string) bool {
	_, ok := m.maskFields[field]
	return ok
}

func (m *Masker) isHashed(field string) bool {
	_, ok := m.hashFields[field]
	return ok
}

func (m *Masker) hash(value string) string {
	sum := sha256.Sum256([]byte(m.salt + value))
	return "anon:" + hex.EncodeToString(sum[:8])
}
