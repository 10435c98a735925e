package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MatchInput is the part of an intent analysis that names schema objects.
type MatchInput struct {
	Question string
	Tables   []string
	Columns  []string
}

// Match is the focused view of the schema for one question.
type Match struct {
	// Tables are the matched tables in declaration order.
	Tables []string
	// Columns maps each matched column to the table it was resolved to.
	Columns  map[string]string
	Warnings []string
}

// Match intersects the names in the input with the descriptor. Names that do
// not resolve become warnings. A column found in several tables is resolved
// to the first candidate that is named in in.Tables, else the first whose name
// appears in the question, else the first in declaration order.
func (d *Descriptor) Match(in MatchInput) Match {
	out := Match{Columns: map[string]string{}}
	selected := map[string]bool{}

	intentTables := map[string]bool{}
	for _, name := range in.Tables {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		i, ok := d.lookup(name)
		if !ok {
			out.Warnings = append(out.Warnings, fmt.Sprintf("table %q is not in the schema", name))
			continue
		}
		canonical := d.tables[i].Name
		intentTables[strings.ToLower(canonical)] = true
		selected[canonical] = true
	}

	columns := append([]string(nil), in.Columns...)
	sort.Strings(columns)
	question := strings.ToLower(in.Question)
	for _, column := range columns {
		column = strings.TrimSpace(column)
		if column == "" {
			continue
		}
		candidates := d.TablesWithColumn(column)
		switch len(candidates) {
		case 0:
			out.Warnings = append(out.Warnings, fmt.Sprintf("column %q is not in the schema", column))
			continue
		case 1:
			out.Columns[column] = candidates[0]
		default:
			table := resolveAmbiguous(candidates, intentTables, question)
			out.Columns[column] = table
			out.Warnings = append(out.Warnings, fmt.Sprintf("column %q is ambiguous across %s; using %s", column, strings.Join(candidates, ", "), table))
		}
		selected[out.Columns[column]] = true
	}

	if d != nil {
		for _, table := range d.tables {
			if selected[table.Name] {
				out.Tables = append(out.Tables, table.Name)
			}
		}
	}
	return out
}

func resolveAmbiguous(candidates []string, intentTables map[string]bool, question string) string {
	for _, candidate := range candidates {
		if intentTables[strings.ToLower(candidate)] {
			return candidate
		}
	}
	for _, candidate := range candidates {
		if mentions(question, candidate) {
			return candidate
		}
	}
	return candidates[0]
}

func mentions(question, table string) bool {
	pattern := `\b` + regexp.QuoteMeta(strings.ToLower(table)) + `\b`
	matched, err := regexp.MatchString(pattern, question)
	return err == nil && matched
}
