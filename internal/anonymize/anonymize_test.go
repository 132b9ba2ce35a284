package anonymize

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformMasksDirectIdentifiers(t *testing.T) {
	m := NewMasker("salt", nil, nil)

	out, err := m.Transform(context.Background(), map[string]interface{}{
		"SSN":         "123-45-6789",
		"credit_card": "4111111111111111",
		"plan":        "basic",
	}, "customer")
	require.NoError(t, err)

	assert.Equal(t, "[REDACTED]", out["SSN"], "field match is case-insensitive")
	assert.Equal(t, "[REDACTED]", out["credit_card"])
	assert.Equal(t, "basic", out["plan"])
}

func TestTransformHashesQuasiIdentifiers(t *testing.T) {
	m := NewMasker("salt", nil, nil)

	out, err := m.Transform(context.Background(), map[string]interface{}{
		"email": "ada@example.com",
		"name":  "Ada",
	}, "customer")
	require.NoError(t, err)

	email, ok := out["email"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(email, "anon:"))
	assert.NotContains(t, email, "ada@example.com")
}

func TestHashIsDeterministicPerSalt(t *testing.T) {
	a := NewMasker("salt-a", nil, nil)
	b := NewMasker("salt-b", nil, nil)
	payload := map[string]interface{}{"email": "ada@example.com"}

	out1, err := a.Transform(context.Background(), payload, "customer")
	require.NoError(t, err)
	out2, err := a.Transform(context.Background(), payload, "customer")
	require.NoError(t, err)
	out3, err := b.Transform(context.Background(), payload, "customer")
	require.NoError(t, err)

	// Equal values stay linkable under one salt, unlinkable across salts.
	assert.Equal(t, out1["email"], out2["email"])
	assert.NotEqual(t, out1["email"], out3["email"])
}

func TestTransformDoesNotMutateInput(t *testing.T) {
	m := NewMasker("salt", nil, nil)
	payload := map[string]interface{}{"ssn": "123-45-6789"}

	_, err := m.Transform(context.Background(), payload, "customer")
	require.NoError(t, err)
	assert.Equal(t, "123-45-6789", payload["ssn"])
}

func TestTransformNilPayloadFails(t *testing.T) {
	m := NewMasker("salt", nil, nil)

	_, err := m.Transform(context.Background(), nil, "customer")
	var anonErr *Error
	require.ErrorAs(t, err, &anonErr)
	assert.Equal(t, "customer", anonErr.RecordType)
}

func TestCustomFieldLists(t *testing.T) {
	m := NewMasker("salt", []string{"secret"}, []string{"handle"})

	out, err := m.Transform(context.Background(), map[string]interface{}{
		"secret": "s3cr3t",
		"handle": "ada42",
		"ssn":    "untouched with custom lists",
	}, "customer")
	require.NoError(t, err)

	assert.Equal(t, "[REDACTED]", out["secret"])
	assert.Contains(t, out["handle"], "anon:")
	assert.Equal(t, "untouched with custom lists", out["ssn"])
}
