// Package nl2sql turns a natural-language question into SQL, runs it and
// collects everything that happened into a Bundle.
package nl2sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/asksql/asksql/internal/llm"
	"github.com/asksql/asksql/internal/observability"
	"github.com/asksql/asksql/internal/prompt"
	"github.com/asksql/asksql/internal/query"
	"github.com/asksql/asksql/internal/schema"
)

const archiveTimeout = 10 * time.Second

type Completer interface {
	Complete(ctx context.Context, stage prompt.Stage, vars any, cred llm.Credential, parse llm.ParseFunc) (string, error)
}

type Archiver interface {
	Archive(ctx context.Context, bundle Bundle) error
}

type Options struct {
	RepairEnabled bool
	MaxRows       int
}

type Dependencies struct {
	LLM      Completer
	Prompts  *prompt.Set
	Schema   *schema.Descriptor
	Executor query.Engine
	Archiver Archiver
	Logger   *slog.Logger
	Options  Options
}

// Request is one natural-language question with the LLM credential to answer it with.
type Request struct {
	Question   string
	Credential llm.Credential
	Debug      bool
}

type TraceEntry struct {
	Stage  string `json:"stage"`
	Output any    `json:"output"`
}

// Bundle is the outcome of one run. ColumnNames and QueryResults are non-nil
// only when execution succeeded; otherwise Err is set.
type Bundle struct {
	RunID          string
	StartedAt      time.Time
	UserQuery      string
	CorrectedQuery string
	Intent         *Intent
	GeneratedSQL   string
	ColumnNames    []string
	QueryResults   [][]any
	Err            error
	Warnings       []string
	Trace          []TraceEntry
	Duration       time.Duration
}

// Pipeline turns a question into SQL, checks it against the schema and runs it
// read-only. It is safe for concurrent use.
type Pipeline struct {
	llm      Completer
	prompts  *prompt.Set
	schema   *schema.Descriptor
	executor query.Engine
	archiver Archiver
	logger   *slog.Logger
	opts     Options
}

func New(deps Dependencies) (*Pipeline, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("llm completer is required")
	}
	if deps.Prompts == nil {
		return nil, fmt.Errorf("prompt set is required")
	}
	if deps.Schema == nil {
		return nil, fmt.Errorf("schema descriptor is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("query executor is required")
	}
	if deps.Options.MaxRows < 0 {
		return nil, fmt.Errorf("max rows must be >= 0")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		llm:      deps.LLM,
		prompts:  deps.Prompts,
		schema:   deps.Schema,
		executor: deps.Executor,
		archiver: deps.Archiver,
		logger:   logger,
		opts:     deps.Options,
	}, nil
}

func (p *Pipeline) Schema() *schema.Descriptor { return p.schema }

// Ask runs every stage in order and stops at the first terminal error.
func (p *Pipeline) Ask(ctx context.Context, req Request) Bundle {
	r := &run{
		debug: req.Debug,
		bundle: Bundle{
			RunID:     uuid.NewString(),
			StartedAt: time.Now().UTC(),
			UserQuery: req.Question,
		},
	}
	ctx = observability.ContextWithRunID(ctx, r.bundle.RunID)

	err := p.ask(ctx, req, r)
	bundle := r.bundle
	bundle.Err = err
	if err != nil {
		bundle.ColumnNames = nil
		bundle.QueryResults = nil
	}
	bundle.Duration = time.Since(bundle.StartedAt)

	result := outcome(err)
	observability.ObservePipelineRun(result)
	attrs := []any{
		"outcome", result,
		"duration_ms", bundle.Duration.Milliseconds(),
		"warnings", len(bundle.Warnings),
		"credential_source", req.Credential.Source,
	}
	if err != nil {
		p.logger.WarnContext(ctx, "pipeline run failed", append(attrs, "error_code", ErrorCode(err), "error", err)...)
	} else {
		p.logger.InfoContext(ctx, "pipeline run finished", append(attrs, "rows", len(bundle.QueryResults))...)
	}

	p.archive(ctx, bundle)
	return bundle
}

func (p *Pipeline) ask(ctx context.Context, req Request, r *run) error {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return &ValidationError{Err: ErrEmptyQuestion}
	}
	if req.Credential.Empty() {
		return &CredentialError{Missing: true, Err: llm.ErrMissingCredential}
	}
	cred := req.Credential

	intent, err := p.analyzeIntent(ctx, question, cred, r)
	if err != nil {
		return err
	}
	r.bundle.Intent = &intent

	corrected, err := p.correct(ctx, question, intent, cred, r)
	if err != nil {
		return err
	}
	r.bundle.CorrectedQuery = corrected

	match := p.matchSchema(question, intent, r)

	sqlText, err := p.generateSQL(ctx, question, corrected, intent, match, cred, r)
	if err != nil {
		return err
	}
	r.bundle.GeneratedSQL = sqlText

	sqlText, err = p.validate(ctx, question, corrected, sqlText, intent, cred, r)
	r.bundle.GeneratedSQL = sqlText
	if err != nil {
		return err
	}

	return p.execute(ctx, sqlText, r)
}

func (p *Pipeline) archive(ctx context.Context, bundle Bundle) {
	if p.archiver == nil {
		return
	}
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := p.archiver.Archive(archiveCtx, bundle); err != nil {
		observability.IncrementArchiveFailure()
		p.logger.ErrorContext(ctx, "archive pipeline run", "error", err)
	}
}

type run struct {
	debug  bool
	bundle Bundle
}

func (r *run) trace(stage string, output any) {
	if !r.debug {
		return
	}
	r.bundle.Trace = append(r.bundle.Trace, TraceEntry{Stage: stage, Output: output})
}

func (r *run) warn(messages ...string) {
	for _, message := range messages {
		if strings.TrimSpace(message) == "" {
			continue
		}
		r.bundle.Warnings = append(r.bundle.Warnings, message)
	}
}
