package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veildata-systems/veilpipe/internal/model"
	"github.com/veildata-systems/veilpipe/internal/source"
)

func TestNormalizeStampsSourceAndSchema(t *testing.T) {
	n := New("orders-db", "v2")
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	env, err := n.Normalize(&source.RawRecord{
		Position:   42,
		Table:      "orders",
		Operation:  "insert",
		Data:       map[string]interface{}{"order_id": "o-1"},
		OccurredAt: occurred,
	})
	require.NoError(t, err)

	assert.Equal(t, "orders-db", env.Source)
	assert.Equal(t, "v2", env.SchemaTag)
	assert.Equal(t, model.EventInsert, env.EventType)
	assert.Equal(t, model.PriorityNormal, env.Priority)
	assert.Equal(t, int64(42), env.Position)
	assert.Equal(t, "orders", env.Table)
	assert.Equal(t, occurred, env.Timestamp)
	assert.NotEmpty(t, env.Checksum)
}

func TestNormalizeDeleteGetsHighPriority(t *testing.T) {
	n := New("db", "v1")

	env, err := n.Normalize(&source.RawRecord{
		Position:  1,
		Operation: "delete",
		Data:      map[string]interface{}{"id": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.EventDelete, env.EventType)
	assert.Equal(t, model.PriorityHigh, env.Priority)
}

func TestNormalizeUnknownOperationIsExtract(t *testing.T) {
	n := New("db", "v1")

	env, err := n.Normalize(&source.RawRecord{
		Position:  1,
		Operation: "",
		Data:      map[string]interface{}{"id": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.EventExtract, env.EventType)
	assert.Equal(t, model.PriorityLow, env.Priority)
}

func TestNormalizeRejectsNilData(t *testing.T) {
	n := New("db", "v1")

	_, err := n.Normalize(&source.RawRecord{Position: 9})
	assert.Error(t, err)

	_, err = n.Normalize(nil)
	assert.Error(t, err)
}
