package sqlcheck

import (
	"fmt"
	"regexp"
	"sort"
)

// IntentWarnings compares a statement with the intent that produced it. A
// requested filter column or value missing from the SQL, or a requested table
// it never mentions, yields a warning. These are advisory only.
func IntentWarnings(sqlText string, tables []string, filters map[string]any) []string {
	var warnings []string

	columns := make([]string, 0, len(filters))
	for column := range filters {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	for _, column := range columns {
		value := fmt.Sprint(filters[column])
		if !containsWord(sqlText, column) {
			warnings = append(warnings, fmt.Sprintf("SQL query doesn't include the column '%s' as requested.", column))
			continue
		}
		if value != "" && !containsFold(sqlText, value) {
			warnings = append(warnings, fmt.Sprintf("SQL query doesn't filter for '%s' in column '%s' as requested.", value, column))
		}
	}

	for _, table := range tables {
		if table == "" {
			continue
		}
		if !containsWord(sqlText, table) {
			warnings = append(warnings, fmt.Sprintf("SQL query doesn't reference table '%s' as expected.", table))
		}
	}
	return warnings
}

func containsWord(text, word string) bool {
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

func containsFold(text, value string) bool {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(value))
	if err != nil {
		return false
	}
	return re.MatchString(text)
}
