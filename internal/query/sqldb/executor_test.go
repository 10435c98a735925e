package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/asksql/asksql/internal/query"
)

func TestExecuteReturnsFixtureRows(t *testing.T) {
	db := newFixtureDB(t)
	executor := New(db, Options{})

	result, err := executor.Execute(context.Background(), query.Request{
		SQL: "SELECT * FROM customers WHERE city = 'Casablanca' ORDER BY customer_id;",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if diff := cmp.Diff([]string{"customer_id", "name", "city"}, result.Columns); diff != "" {
		t.Fatalf("Columns mismatch (-want +got):\n%s", diff)
	}
	want := [][]any{
		{int32(1), "Amina", "Casablanca"},
		{int32(3), "Karim", "Casablanca"},
	}
	if diff := cmp.Diff(want, result.Rows); diff != "" {
		t.Fatalf("Rows mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteIsRepeatable(t *testing.T) {
	db := newFixtureDB(t)
	executor := New(db, Options{})
	request := query.Request{SQL: "SELECT name, city FROM customers ORDER BY customer_id"}

	first, err := executor.Execute(context.Background(), request)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	second, err := executor.Execute(context.Background(), request)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if diff := cmp.Diff(first.Columns, second.Columns); diff != "" {
		t.Fatalf("Columns differ between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Rows, second.Rows); diff != "" {
		t.Fatalf("Rows differ between runs (-first +second):\n%s", diff)
	}
}

func TestExecuteAppliesMaxRows(t *testing.T) {
	db := newFixtureDB(t)
	result, err := New(db, Options{}).Execute(context.Background(), query.Request{
		SQL:     "SELECT * FROM customers ORDER BY customer_id",
		MaxRows: 2,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("len(Rows) = %d", len(result.Rows))
	}
}

func TestExecuteEmptyResultHasNonNilRows(t *testing.T) {
	db := newFixtureDB(t)
	result, err := New(db, Options{}).Execute(context.Background(), query.Request{
		SQL: "SELECT * FROM customers WHERE city = 'Nowhere'",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Rows == nil || len(result.Rows) != 0 {
		t.Fatalf("Rows = %#v", result.Rows)
	}
	if len(result.Columns) != 3 {
		t.Fatalf("Columns = %v", result.Columns)
	}
}

func TestExecuteRejectsWritesWithoutTouchingDatabase(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, Options{ReadOnlyTx: true})

	for _, sqlText := range []string{
		"DELETE FROM customers",
		"DROP TABLE customers;",
		"SELECT 1; DELETE FROM customers",
	} {
		_, err := executor.Execute(context.Background(), query.Request{SQL: sqlText})
		var rejected *query.RejectedStatementError
		if !errors.As(err, &rejected) {
			t.Fatalf("Execute(%q) error = %v, want RejectedStatementError", sqlText, err)
		}
	}
	assertSQLMock(t, mock)
}

func TestExecuteDriverErrorPreservesText(t *testing.T) {
	db := newFixtureDB(t)
	_, err := New(db, Options{}).Execute(context.Background(), query.Request{
		SQL: "SELECT country FROM customers",
	})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want ExecutionError", err)
	}
	if !strings.Contains(execErr.Error(), "country") {
		t.Fatalf("Error() = %q, want driver text", execErr.Error())
	}
}

func TestExecuteAlwaysRollsBack(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM customers")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow([]byte("Amina")))
	mock.ExpectRollback()

	result, err := New(db, Options{ReadOnlyTx: true}).Execute(context.Background(), query.Request{SQL: "SELECT name FROM customers;"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if diff := cmp.Diff([][]any{{"Amina"}}, result.Rows); diff != "" {
		t.Fatalf("Rows mismatch (-want +got):\n%s", diff)
	}
	assertSQLMock(t, mock)
}

func TestExecuteRollsBackOnQueryError(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nope FROM customers")).
		WillReturnError(errors.New(`column "nope" does not exist`))
	mock.ExpectRollback()

	_, err := New(db, Options{}).Execute(context.Background(), query.Request{SQL: "SELECT nope FROM customers"})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want ExecutionError", err)
	}
	if execErr.Error() != `column "nope" does not exist` {
		t.Fatalf("Error() = %q", execErr.Error())
	}
	assertSQLMock(t, mock)
}

func newFixtureDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range []string{
		`CREATE TABLE customers (customer_id INTEGER, name VARCHAR, city VARCHAR)`,
		`INSERT INTO customers VALUES (1, 'Amina', 'Casablanca'), (2, 'Omar', 'Rabat'), (3, 'Karim', 'Casablanca')`,
	} {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("ExecContext(%q) error = %v", stmt, err)
		}
	}
	return db
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
