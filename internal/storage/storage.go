// Package storage defines where archived pipeline runs are written.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"time"
)

var ErrBucketNotFound = errors.New("bucket not found")

// ParquetContentType is the media type of archived run records.
const ParquetContentType = "application/vnd.apache.parquet"

type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

type PutOptions struct {
	ContentType string
	// Metadata is stored as user metadata on the object.
	Metadata map[string]string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Ping(ctx context.Context) error
}

var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildRunRecordPath partitions run records by UTC start date:
// runs/date=YYYY-MM-DD/<run id>.parquet.
func BuildRunRecordPath(runID string, startedAt time.Time) (string, error) {
	if !runIDPattern.MatchString(runID) {
		return "", fmt.Errorf("invalid run id: %q", runID)
	}
	if startedAt.IsZero() {
		return "", fmt.Errorf("run start time is required")
	}
	return path.Join("runs", "date="+startedAt.UTC().Format(time.DateOnly), runID+".parquet"), nil
}
