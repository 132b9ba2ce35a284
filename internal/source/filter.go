package source

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FilterRules excludes raw records by table or operation and strips excluded
// columns. Application is pure: the input record is never mutated.
type FilterRules struct {
	ExcludeTables     []string `yaml:"exclude_tables"`
	ExcludeOperations []string `yaml:"exclude_operations"`
	ExcludeColumns    []string `yaml:"exclude_columns"`
}

// LoadFilterRules reads rules from a YAML file. An empty path yields empty
// rules (nothing excluded).
func LoadFilterRules(path string) (*FilterRules, error) {
	if path == "" {
		return &FilterRules{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter rules: %w", err)
	}

	var rules FilterRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse filter rules: %w", err)
	}

	return &rules, nil
}

// Apply returns a filtered copy of the record, or nil if the whole record is
// excluded.
func (r *FilterRules) Apply(record *RawRecord) *RawRecord {
	if record == nil {
		return nil
	}
	if containsFold(r.ExcludeTables, record.Table) {
		return nil
	}
	if containsFold(r.ExcludeOperations, record.Operation) {
		return nil
	}

	if len(r.ExcludeColumns) == 0 {
		return record
	}

	filtered := *record
	filtered.Data = make(map[string]interface{}, len(record.Data))
	for column, value := range record.Data {
		if containsFold(r.ExcludeColumns, column) {
			continue
		}
		filtered.Data[column] = value
	}
	return &filtered
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
