package quality

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssessFullPayloadScoresOne(t *testing.T) {
	a := &CompletenessAssessor{}

	got, err := a.Assess(context.Background(), map[string]interface{}{
		"name": "ada", "age": 36, "active": false,
	}, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Score)
	assert.Empty(t, got.Issues)
	assert.False(t, got.Transient())
}

func TestAssessEmptyPayload(t *testing.T) {
	a := &CompletenessAssessor{}

	got, err := a.Assess(context.Background(), map[string]interface{}{}, "v1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Score)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, CodeEmptyPayload, got.Issues[0].Code)
}

func TestAssessCountsMissingValues(t *testing.T) {
	a := &CompletenessAssessor{}

	got, err := a.Assess(context.Background(), map[string]interface{}{
		"name":  "ada",
		"email": "",
		"notes": "   ",
		"age":   nil,
	}, "v1")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, got.Score, 1e-9)
	assert.Len(t, got.Issues, 3)
	assert.False(t, got.Transient())
}

func TestMissingReferenceMarksTransient(t *testing.T) {
	a := &CompletenessAssessor{}

	got, err := a.Assess(context.Background(), map[string]interface{}{
		"name":       "ada",
		"account_id": "",
	}, "v1")
	require.NoError(t, err)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, CodeMissingReference, got.Issues[0].Code)
	assert.True(t, got.Transient())
}

func TestThresholdErrorMessage(t *testing.T) {
	err := &ThresholdError{Score: 0.4, Threshold: 0.7, Transient: true, Issues: []Issue{{Field: "x"}}}
	assert.Contains(t, err.Error(), "0.40")
	assert.Contains(t, err.Error(), "transient")

	err.Transient = false
	assert.Contains(t, err.Error(), "permanent")
}
