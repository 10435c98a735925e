package nl2sql

import (
	"errors"
	"fmt"

	"github.com/asksql/asksql/internal/query"
	"github.com/asksql/asksql/internal/sqlcheck"
)

var ErrEmptyQuestion = errors.New("question is required")

const (
	CodeQuestionRequired  = "QUESTION_REQUIRED"
	CodeCredentialMissing = "CREDENTIAL_MISSING"
	CodeCredentialInvalid = "CREDENTIAL_INVALID"
	CodeLLMService        = "LLM_SERVICE_ERROR"
	CodeSchemaMismatch    = "SCHEMA_MISMATCH"
	CodeStatementRejected = "STATEMENT_REJECTED"
	CodeExecutionFailed   = "EXECUTION_FAILED"
	CodeInternal          = "INTERNAL_ERROR"
)

type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// CredentialError reports a missing key or one the LLM provider rejected.
type CredentialError struct {
	Missing bool
	Err     error
}

func (e *CredentialError) Error() string {
	if e.Missing {
		return "an LLM API key is required; save one in the key settings or send X-LLM-API-Key"
	}
	return fmt.Sprintf("the LLM API key was rejected: %v", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

type LLMServiceError struct {
	Stage string
	Err   error
}

func (e *LLMServiceError) Error() string {
	return fmt.Sprintf("llm %s stage failed: %v", e.Stage, e.Err)
}

func (e *LLMServiceError) Unwrap() error { return e.Err }

// ErrorCode maps a pipeline error to its stable error code. A nil error maps to "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var (
		validationErr *ValidationError
		credentialErr *CredentialError
		llmErr        *LLMServiceError
		mismatchErr   *sqlcheck.SchemaMismatchError
		rejectedErr   *query.RejectedStatementError
		executionErr  *query.ExecutionError
	)
	switch {
	case errors.As(err, &validationErr):
		return CodeQuestionRequired
	case errors.As(err, &credentialErr):
		if credentialErr.Missing {
			return CodeCredentialMissing
		}
		return CodeCredentialInvalid
	case errors.As(err, &llmErr):
		return CodeLLMService
	case errors.As(err, &mismatchErr):
		return CodeSchemaMismatch
	case errors.As(err, &rejectedErr):
		return CodeStatementRejected
	case errors.As(err, &executionErr):
		return CodeExecutionFailed
	default:
		return CodeInternal
	}
}

func outcome(err error) string {
	switch ErrorCode(err) {
	case "":
		return "ok"
	case CodeQuestionRequired:
		return "validation_error"
	case CodeCredentialMissing, CodeCredentialInvalid:
		return "credential_error"
	case CodeLLMService:
		return "llm_error"
	case CodeSchemaMismatch:
		return "schema_mismatch"
	case CodeStatementRejected:
		return "statement_rejected"
	case CodeExecutionFailed:
		return "execution_error"
	default:
		return "error"
	}
}
