// Package present shapes a pipeline Bundle for JSON responses and HTML templates.
package present

import (
	"strings"

	"github.com/asksql/asksql/internal/nl2sql"
)

// View is the response shape shared by the JSON API and the result page.
// Optional parts are nil so that they encode as null.
type View struct {
	RunID          string              `json:"run_id"`
	UserQuery      string              `json:"user_query"`
	CorrectedQuery *string             `json:"corrected_query"`
	GeneratedSQL   *string             `json:"generated_sql"`
	ColumnNames    []string            `json:"column_names"`
	QueryResults   [][]any             `json:"query_results"`
	Error          *string             `json:"error"`
	ErrorCode      string              `json:"error_code"`
	Warnings       []string            `json:"warnings"`
	DebugInfo      []nl2sql.TraceEntry `json:"debug_info"`
	DurationMS     int64               `json:"duration_ms"`
}

func Format(bundle nl2sql.Bundle) View {
	view := View{
		RunID:        bundle.RunID,
		UserQuery:    bundle.UserQuery,
		ColumnNames:  bundle.ColumnNames,
		QueryResults: bundle.QueryResults,
		Warnings:     append([]string{}, bundle.Warnings...),
		DurationMS:   bundle.Duration.Milliseconds(),
	}
	if corrected := strings.TrimSpace(bundle.CorrectedQuery); corrected != "" &&
		corrected != strings.TrimSpace(bundle.UserQuery) {
		view.CorrectedQuery = &corrected
	}
	if bundle.GeneratedSQL != "" {
		sqlText := bundle.GeneratedSQL
		view.GeneratedSQL = &sqlText
	}
	if bundle.Err != nil {
		message := bundle.Err.Error()
		view.Error = &message
		view.ErrorCode = nl2sql.ErrorCode(bundle.Err)
		view.ColumnNames = nil
		view.QueryResults = nil
	}
	if len(bundle.Trace) > 0 {
		view.DebugInfo = bundle.Trace
	}
	return view
}

func (v View) Succeeded() bool {
	return v.Error == nil
}

func (v View) RowCount() int {
	return len(v.QueryResults)
}
