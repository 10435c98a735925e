// Package sqldb executes read-only queries through database/sql.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/asksql/asksql/internal/database"
	"github.com/asksql/asksql/internal/query"
)

type Options struct {
	// ReadOnlyTx asks the driver for a read-only transaction. Enable it only
	// for drivers that support it.
	ReadOnlyTx bool
}

type Executor struct {
	db         *sql.DB
	readOnlyTx bool
}

func New(db *sql.DB, opts Options) *Executor {
	return &Executor{db: db, readOnlyTx: opts.ReadOnlyTx}
}

// Execute runs one read-only statement on a dedicated connection inside a
// transaction that is always rolled back, and fetches every row.
func (e *Executor) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if e == nil || e.db == nil {
		return query.Result{}, fmt.Errorf("database is required")
	}
	if err := query.CheckReadOnly(request.SQL); err != nil {
		return query.Result{}, err
	}

	sqlText := query.StripTrailingSemicolons(request.SQL)
	if request.MaxRows > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.MaxRows)
	}

	start := time.Now()
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return query.Result{}, &query.ExecutionError{Err: err}
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: e.readOnlyTx})
	if err != nil {
		return query.Result{}, &query.ExecutionError{Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, &query.ExecutionError{Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, &query.ExecutionError{Err: err}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, &query.ExecutionError{Err: err}
		}
		resultRows = append(resultRows, database.NormalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, &query.ExecutionError{Err: err}
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}
