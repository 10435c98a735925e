package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asksql/asksql/internal/llm"
	"github.com/asksql/asksql/internal/observability"
	"github.com/asksql/asksql/internal/prompt"
	"github.com/asksql/asksql/internal/query"
	"github.com/asksql/asksql/internal/schema"
	"github.com/asksql/asksql/internal/sqlcheck"
)

func observeStage(stage string, started time.Time) {
	observability.ObserveStage(stage, time.Since(started))
}

func (p *Pipeline) analyzeIntent(ctx context.Context, question string, cred llm.Credential, r *run) (Intent, error) {
	defer observeStage("intent", time.Now())

	var intent Intent
	_, err := p.llm.Complete(ctx, prompt.StageIntent, prompt.IntentVars{
		Question: question,
		Schema:   p.schema.Summary(),
	}, cred, func(raw string) (string, error) {
		obj, ok := llm.ExtractJSONObject(raw)
		if !ok {
			return "", errors.New("intent response contains no JSON object")
		}
		var parsed Intent
		if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
			return "", fmt.Errorf("decode intent: %w", err)
		}
		intent = parsed
		return obj, nil
	})
	if err != nil {
		r.trace("intent_error", err.Error())
		return Intent{}, llmFailure("intent", err)
	}
	r.trace("intent", intent)
	return intent, nil
}

// correct is best effort: only an auth failure aborts the run.
func (p *Pipeline) correct(ctx context.Context, question string, intent Intent, cred llm.Credential, r *run) (string, error) {
	defer observeStage("correction", time.Now())

	corrected, err := p.llm.Complete(ctx, prompt.StageCorrection, prompt.CorrectionVars{
		Question: question,
		Intent:   intent.Summary(question, ""),
	}, cred, parseCorrection)
	if err == nil {
		r.trace("correction", corrected)
		return corrected, nil
	}
	if llm.IsAuth(err) {
		r.trace("correction_error", err.Error())
		return "", llmFailure("correction", err)
	}

	r.trace("correction_error", err.Error())
	fallback := strings.TrimSpace(intent.Correction)
	if fallback == "" {
		fallback = question
	}
	r.warn(fmt.Sprintf("query correction failed, using %q: %v", fallback, err))
	r.trace("correction", fallback)
	return fallback, nil
}

func (p *Pipeline) matchSchema(question string, intent Intent, r *run) schema.Match {
	defer observeStage("schema_match", time.Now())

	match := p.schema.Match(schema.MatchInput{
		Question: question,
		Tables:   intent.Tables,
		Columns:  intent.FilterColumns(),
	})
	r.warn(match.Warnings...)
	r.trace("schema_match", match)
	return match
}

func (p *Pipeline) generateSQL(ctx context.Context, question, corrected string, intent Intent, match schema.Match, cred llm.Credential, r *run) (string, error) {
	defer observeStage("sql_generation", time.Now())

	examples, err := p.prompts.Examples(prompt.ExampleInput{
		Tables:   match.Tables,
		Filters:  intent.Filters,
		Language: intent.Language,
	})
	if err != nil {
		return "", fmt.Errorf("build few-shot examples: %w", err)
	}

	sqlText, err := p.llm.Complete(ctx, prompt.StageSQL, prompt.SQLVars{
		Question: corrected,
		Intent:   intent.Summary(question, corrected),
		Schema:   p.schema.Text(),
		Samples:  p.schema.SampleText(match.Tables),
		Examples: examples,
	}, cred, parseSQL)
	if err != nil {
		r.trace("sql_generation_error", err.Error())
		return "", llmFailure("sql", err)
	}
	r.trace("sql_generation", sqlText)
	return sqlText, nil
}

// validate checks the statement against the read-only rules and the schema.
// With repair enabled a schema mismatch gets one repair attempt.
func (p *Pipeline) validate(ctx context.Context, question, corrected, sqlText string, intent Intent, cred llm.Credential, r *run) (string, error) {
	defer observeStage("validation", time.Now())

	err := p.check(sqlText)
	if err == nil {
		r.warn(sqlcheck.IntentWarnings(sqlText, intent.Tables, intent.Filters)...)
		r.trace("validation", "ok")
		return sqlText, nil
	}
	r.trace("validation_error", err.Error())

	var mismatch *sqlcheck.SchemaMismatchError
	if !p.opts.RepairEnabled || !errors.As(err, &mismatch) {
		return sqlText, err
	}

	repaired, repairErr := p.llm.Complete(ctx, prompt.StageRepair, prompt.RepairVars{
		SQL:     sqlText,
		Schema:  p.schema.Text(),
		Problem: err.Error(),
		Intent:  intent.Summary(question, corrected),
	}, cred, parseSQL)
	if repairErr != nil {
		r.trace("repair_error", repairErr.Error())
		if llm.IsAuth(repairErr) {
			return sqlText, llmFailure("repair", repairErr)
		}
		r.warn(fmt.Sprintf("sql repair failed: %v", repairErr))
		return sqlText, err
	}
	r.trace("repair", repaired)

	if err := p.check(repaired); err != nil {
		r.trace("validation_error", err.Error())
		return repaired, err
	}
	r.warn("generated SQL referenced unknown schema objects and was repaired")
	r.warn(sqlcheck.IntentWarnings(repaired, intent.Tables, intent.Filters)...)
	return repaired, nil
}

func (p *Pipeline) check(sqlText string) error {
	if err := query.CheckReadOnly(sqlText); err != nil {
		return err
	}
	return sqlcheck.Validate(sqlText, p.schema)
}

func (p *Pipeline) execute(ctx context.Context, sqlText string, r *run) error {
	defer observeStage("execution", time.Now())

	result, err := p.executor.Execute(ctx, query.Request{SQL: sqlText, MaxRows: p.opts.MaxRows})
	if err != nil {
		r.trace("execution_error", err.Error())
		return err
	}
	columns := result.Columns
	if columns == nil {
		columns = []string{}
	}
	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	r.bundle.ColumnNames = columns
	r.bundle.QueryResults = rows
	observability.ObserveRowsReturned(len(rows))
	r.trace("execution", map[string]any{
		"rows":        len(rows),
		"duration_ms": result.Duration.Milliseconds(),
	})
	return nil
}

func llmFailure(stage string, err error) error {
	if llm.IsAuth(err) {
		return &CredentialError{Missing: errors.Is(err, llm.ErrMissingCredential), Err: err}
	}
	return &LLMServiceError{Stage: stage, Err: err}
}

func parseCorrection(raw string) (string, error) {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "\"'`")
		if line != "" {
			return line, nil
		}
	}
	return "", errors.New("empty correction")
}

func parseSQL(raw string) (string, error) {
	sqlText := llm.StripMarkdownSQL(raw)
	if sqlText == "" {
		return "", errors.New("empty SQL")
	}
	if !sqlcheck.LooksLikeSQL(sqlText) {
		return "", fmt.Errorf("response does not start with a SQL statement: %.60q", sqlText)
	}
	return sqlText, nil
}
