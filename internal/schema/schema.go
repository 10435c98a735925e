// Package schema holds the read-only description of the target database that
// grounds prompts and validates generated SQL.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	SampleRows [][]any  `json:"sample_rows,omitempty"`
}

// Descriptor is immutable after construction and safe for concurrent reads.
// Name lookups are case-insensitive.
type Descriptor struct {
	tables []Table
	index  map[string]int
}

func New(tables []Table) *Descriptor {
	d := &Descriptor{
		tables: make([]Table, 0, len(tables)),
		index:  make(map[string]int, len(tables)),
	}
	for _, table := range tables {
		key := strings.ToLower(table.Name)
		if _, exists := d.index[key]; exists {
			continue
		}
		d.index[key] = len(d.tables)
		d.tables = append(d.tables, copyTable(table))
	}
	return d
}

func (d *Descriptor) Len() int {
	if d == nil {
		return 0
	}
	return len(d.tables)
}

// Tables returns the tables in declaration order.
func (d *Descriptor) Tables() []Table {
	if d == nil {
		return nil
	}
	out := make([]Table, 0, len(d.tables))
	for _, table := range d.tables {
		out = append(out, copyTable(table))
	}
	return out
}

func (d *Descriptor) TableNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.tables))
	for _, table := range d.tables {
		names = append(names, table.Name)
	}
	return names
}

func (d *Descriptor) Table(name string) (Table, bool) {
	i, ok := d.lookup(name)
	if !ok {
		return Table{}, false
	}
	return copyTable(d.tables[i]), true
}

func (d *Descriptor) HasTable(name string) bool {
	_, ok := d.lookup(name)
	return ok
}

func (d *Descriptor) HasColumn(table, column string) bool {
	i, ok := d.lookup(table)
	if !ok {
		return false
	}
	return hasColumn(d.tables[i], column)
}

// TablesWithColumn lists, in declaration order, every table that has column.
func (d *Descriptor) TablesWithColumn(column string) []string {
	if d == nil {
		return nil
	}
	var out []string
	for _, table := range d.tables {
		if hasColumn(table, column) {
			out = append(out, table.Name)
		}
	}
	return out
}

// Text renders every table with its typed columns for the SQL prompt.
func (d *Descriptor) Text() string {
	var b strings.Builder
	b.WriteString("Database Schema:\n")
	if d == nil {
		return b.String()
	}
	for _, table := range d.tables {
		parts := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			if column.Type == "" {
				parts = append(parts, column.Name)
				continue
			}
			parts = append(parts, column.Name+" "+column.Type)
		}
		fmt.Fprintf(&b, "Table %s:\n  Columns: %s\n", table.Name, strings.Join(parts, ", "))
	}
	return b.String()
}

// Summary is the compact form used by the intent prompt.
func (d *Descriptor) Summary() string {
	if d == nil {
		return ""
	}
	lines := make([]string, 0, len(d.tables))
	for _, table := range d.tables {
		names := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			names = append(names, column.Name)
		}
		lines = append(lines, table.Name+"("+strings.Join(names, ", ")+")")
	}
	return strings.Join(lines, "\n")
}

// SampleText renders the sample rows of the named tables as markdown tables.
// Tables without samples are skipped.
func (d *Descriptor) SampleText(tables []string) string {
	var b strings.Builder
	for _, name := range tables {
		i, ok := d.lookup(name)
		if !ok {
			continue
		}
		table := d.tables[i]
		if len(table.SampleRows) == 0 {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Sample data from relevant tables:\n")
		}
		header := make([]string, 0, len(table.Columns))
		divider := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			header = append(header, column.Name)
			divider = append(divider, "---")
		}
		fmt.Fprintf(&b, "\nTable %s (first %d rows):\n", table.Name, len(table.SampleRows))
		b.WriteString("| " + strings.Join(header, " | ") + " |\n")
		b.WriteString("| " + strings.Join(divider, " | ") + " |\n")
		for _, row := range table.SampleRows {
			cells := make([]string, 0, len(row))
			for _, value := range row {
				if value == nil {
					cells = append(cells, "")
					continue
				}
				cells = append(cells, fmt.Sprint(value))
			}
			b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
	}
	return b.String()
}

func (d *Descriptor) MarshalJSON() ([]byte, error) {
	tables := d.Tables()
	if tables == nil {
		tables = []Table{}
	}
	return json.Marshal(map[string]any{"tables": tables})
}

func (d *Descriptor) lookup(name string) (int, bool) {
	if d == nil {
		return 0, false
	}
	i, ok := d.index[strings.ToLower(strings.TrimSpace(name))]
	return i, ok
}

func hasColumn(table Table, column string) bool {
	for _, c := range table.Columns {
		if strings.EqualFold(c.Name, column) {
			return true
		}
	}
	return false
}

func copyTable(table Table) Table {
	out := Table{
		Name:    table.Name,
		Columns: append([]Column(nil), table.Columns...),
	}
	if len(table.SampleRows) > 0 {
		out.SampleRows = make([][]any, 0, len(table.SampleRows))
		for _, row := range table.SampleRows {
			out.SampleRows = append(out.SampleRows, append([]any(nil), row...))
		}
	}
	return out
}
