// Package archive writes one Parquet record per pipeline run to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/asksql/asksql/internal/nl2sql"
	"github.com/asksql/asksql/internal/storage"
)

// DefaultMaxRows caps how many result rows are copied into a record.
const DefaultMaxRows = 100

type runRecord struct {
	RunID            string `parquet:"run_id"`
	StartedAtUnixMs  int64  `parquet:"started_at_unix_ms"`
	DurationMs       int64  `parquet:"duration_ms"`
	Provider         string `parquet:"provider"`
	Model            string `parquet:"model"`
	UserQuery        string `parquet:"user_query"`
	CorrectedQuery   string `parquet:"corrected_query"`
	GeneratedSQL     string `parquet:"generated_sql"`
	ErrorCode        string `parquet:"error_code"`
	ErrorMessage     string `parquet:"error_message"`
	WarningsJSON     string `parquet:"warnings_json"`
	ColumnNamesJSON  string `parquet:"column_names_json"`
	RowCount         int64  `parquet:"row_count"`
	ResultsJSON      string `parquet:"results_json"`
	ResultsTruncated bool   `parquet:"results_truncated"`
}

type Options struct {
	Provider string
	Model    string
	MaxRows  int
}

type Archiver struct {
	store    storage.ObjectStore
	provider string
	model    string
	maxRows  int
}

func New(store storage.ObjectStore, opts Options) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Archiver{store: store, provider: opts.Provider, model: opts.Model, maxRows: maxRows}, nil
}

// Archive stores bundle under runs/date=YYYY-MM-DD/<run id>.parquet.
func (a *Archiver) Archive(ctx context.Context, bundle nl2sql.Bundle) error {
	key, err := storage.BuildRunRecordPath(bundle.RunID, bundle.StartedAt)
	if err != nil {
		return err
	}
	record, err := a.record(bundle)
	if err != nil {
		return err
	}
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	opts := storage.PutOptions{
		ContentType: storage.ParquetContentType,
		Metadata:    map[string]string{"run-id": bundle.RunID},
	}
	if record.ErrorCode != "" {
		opts.Metadata["error-code"] = record.ErrorCode
	}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("archive run %s: %w", bundle.RunID, err)
	}
	return nil
}

func (a *Archiver) record(bundle nl2sql.Bundle) (runRecord, error) {
	record := runRecord{
		RunID:           bundle.RunID,
		StartedAtUnixMs: bundle.StartedAt.UnixMilli(),
		DurationMs:      bundle.Duration.Milliseconds(),
		Provider:        a.provider,
		Model:           a.model,
		UserQuery:       bundle.UserQuery,
		CorrectedQuery:  bundle.CorrectedQuery,
		GeneratedSQL:    bundle.GeneratedSQL,
		ErrorCode:       nl2sql.ErrorCode(bundle.Err),
		RowCount:        int64(len(bundle.QueryResults)),
	}
	if bundle.Err != nil {
		record.ErrorMessage = bundle.Err.Error()
	}

	rows := bundle.QueryResults
	if len(rows) > a.maxRows {
		rows = rows[:a.maxRows]
		record.ResultsTruncated = true
	}
	var err error
	if record.WarningsJSON, err = marshalJSON(bundle.Warnings); err != nil {
		return runRecord{}, err
	}
	if record.ColumnNamesJSON, err = marshalJSON(bundle.ColumnNames); err != nil {
		return runRecord{}, err
	}
	if record.ResultsJSON, err = marshalJSON(rows); err != nil {
		return runRecord{}, err
	}
	return record, nil
}

func encodeRecord(record runRecord) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[runRecord](buf)
	if _, err := writer.Write([]runRecord{record}); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func marshalJSON(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode archive field: %w", err)
	}
	return string(raw), nil
}
