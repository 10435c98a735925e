package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/asksql/asksql/internal/database"
)

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type LoadOptions struct {
	// Schema is the catalog schema to describe, "public" when empty.
	Schema     string
	SampleRows int
}

const columnsQuery = `SELECT c.table_name, c.column_name, c.data_type
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`

// Load reads base tables and their columns from information_schema. Tables
// are ordered by name and columns by ordinal position. Sample rows are
// best-effort: a table whose sample query fails is kept without samples.
func Load(ctx context.Context, db Querier, opts LoadOptions) (*Descriptor, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	schemaName := strings.TrimSpace(opts.Schema)
	if schemaName == "" {
		schemaName = "public"
	}

	rows, err := db.QueryContext(ctx, columnsQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("query information_schema columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []Table
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != tableName {
			tables = append(tables, Table{Name: tableName})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, Column{Name: columnName, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	if opts.SampleRows > 0 {
		for i := range tables {
			samples, err := loadSamples(ctx, db, schemaName, tables[i].Name, opts.SampleRows)
			if err != nil {
				continue
			}
			tables[i].SampleRows = samples
		}
	}

	return New(tables), nil
}

func loadSamples(ctx context.Context, db Querier, schemaName, table string, limit int) ([][]any, error) {
	sqlText := "SELECT * FROM " + QuoteIdent(schemaName) + "." + QuoteIdent(table) + " LIMIT " + strconv.Itoa(limit)
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sample columns %s: %w", table, err)
	}
	out := make([][]any, 0, limit)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan sample %s: %w", table, err)
		}
		out = append(out, database.NormalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample %s: %w", table, err)
	}
	return out, nil
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
