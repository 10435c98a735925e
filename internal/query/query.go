// Package query defines the read-only query execution contract.
package query

import (
	"context"
	"time"
)

type Request struct {
	SQL string
	// MaxRows caps the result when positive. Zero means no cap.
	MaxRows int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}
