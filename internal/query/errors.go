package query

import "fmt"

// RejectedStatementError is returned for statements that are not a single
// read-only query. Such statements are never sent to the database.
type RejectedStatementError struct {
	Keyword string
	Reason  string
}

func (e *RejectedStatementError) Error() string {
	if e.Keyword != "" {
		return fmt.Sprintf("statement rejected (%s): %s", e.Keyword, e.Reason)
	}
	return "statement rejected: " + e.Reason
}

// ExecutionError wraps a database failure. Error returns the driver text
// unchanged.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return "query execution failed"
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
