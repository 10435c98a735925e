package nl2sql

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Intent is the structured reading of a question returned by the intent stage.
type Intent struct {
	Correction string         `json:"correction"`
	Tables     []string       `json:"tables"`
	Filters    map[string]any `json:"filters"`
	Actions    Actions        `json:"actions"`
	Language   string         `json:"language"`
}

// Actions accepts either a single string or a list of strings.
type Actions []string

func (a *Actions) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*a = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*a = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("actions must be a string or a list of strings: %w", err)
	}
	*a = Actions{single}
	return nil
}

func (a Actions) String() string {
	return strings.Join(a, ", ")
}

// FilterColumns returns the filter keys in sorted order.
func (i Intent) FilterColumns() []string {
	columns := make([]string, 0, len(i.Filters))
	for column := range i.Filters {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// Summary renders the intent for inclusion in later prompts.
func (i Intent) Summary(question, corrected string) string {
	var b strings.Builder
	b.WriteString("User intent analysis:\n")
	fmt.Fprintf(&b, "- Original query: %s\n", question)
	if corrected != "" {
		fmt.Fprintf(&b, "- Corrected query: %s\n", corrected)
	}
	if len(i.Tables) > 0 {
		fmt.Fprintf(&b, "- Tables needed: %s\n", strings.Join(i.Tables, ", "))
	}
	if len(i.Filters) > 0 {
		parts := make([]string, 0, len(i.Filters))
		for _, column := range i.FilterColumns() {
			parts = append(parts, fmt.Sprintf("%s = %v", column, i.Filters[column]))
		}
		fmt.Fprintf(&b, "- Filters: %s\n", strings.Join(parts, ", "))
	}
	if len(i.Actions) > 0 {
		fmt.Fprintf(&b, "- Actions: %s\n", i.Actions.String())
	}
	if i.Language != "" {
		fmt.Fprintf(&b, "- Language: %s\n", i.Language)
	}
	return strings.TrimRight(b.String(), "\n")
}
