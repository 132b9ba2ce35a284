package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFilterRulesEmptyPath(t *testing.T) {
	rules, err := LoadFilterRules("")
	require.NoError(t, err)
	assert.Empty(t, rules.ExcludeTables)
	assert.Empty(t, rules.ExcludeOperations)
	assert.Empty(t, rules.ExcludeColumns)
}

func TestLoadFilterRulesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
exclude_tables:
  - audit_log
exclude_operations:
  - delete
exclude_columns:
  - internal_notes
`), 0o644))

	rules, err := LoadFilterRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"audit_log"}, rules.ExcludeTables)
	assert.Equal(t, []string{"delete"}, rules.ExcludeOperations)
	assert.Equal(t, []string{"internal_notes"}, rules.ExcludeColumns)
}

func TestLoadFilterRulesMissingFile(t *testing.T) {
	_, err := LoadFilterRules("/nonexistent/filters.yaml")
	assert.Error(t, err)
}

func TestApplyExcludesTable(t *testing.T) {
	rules := &FilterRules{ExcludeTables: []string{"Audit_Log"}}
	rec := &RawRecord{Table: "audit_log", Operation: "insert", Data: map[string]interface{}{"a": 1}}

	assert.Nil(t, rules.Apply(rec), "table match is case-insensitive")
}

func TestApplyExcludesOperation(t *testing.T) {
	rules := &FilterRules{ExcludeOperations: []string{"delete"}}

	assert.Nil(t, rules.Apply(&RawRecord{Table: "customers", Operation: "delete"}))
	assert.NotNil(t, rules.Apply(&RawRecord{Table: "customers", Operation: "insert"}))
}

func TestApplyStripsColumnsWithoutMutatingInput(t *testing.T) {
	rules := &FilterRules{ExcludeColumns: []string{"internal_notes"}}
	rec := &RawRecord{
		Table:     "customers",
		Operation: "update",
		Data: map[string]interface{}{
			"name":           "ada",
			"internal_notes": "do not ship",
		},
	}

	filtered := rules.Apply(rec)
	require.NotNil(t, filtered)
	assert.NotContains(t, filtered.Data, "internal_notes")
	assert.Equal(t, "ada", filtered.Data["name"])

	// Original untouched.
	assert.Contains(t, rec.Data, "internal_notes")
}

func TestApplyNoRulesReturnsSameRecord(t *testing.T) {
	rules := &FilterRules{}
	rec := &RawRecord{Table: "customers", Operation: "insert", Data: map[string]interface{}{"a": 1}}
	assert.Same(t, rec, rules.Apply(rec))
}
