package query

import (
	"strings"

	"github.com/asksql/asksql/internal/sqlcheck"
)

// CheckReadOnly accepts exactly one statement whose leading keyword is
// SELECT or WITH and which contains no data-modifying keyword.
func CheckReadOnly(sqlText string) error {
	tokens, err := sqlcheck.Tokenize(sqlText)
	if err != nil {
		return &RejectedStatementError{Reason: "statement could not be tokenized"}
	}
	statements := sqlcheck.Statements(tokens)
	switch len(statements) {
	case 0:
		return &RejectedStatementError{Reason: "statement is empty"}
	case 1:
	default:
		return &RejectedStatementError{Reason: "only a single statement is allowed"}
	}

	keyword := sqlcheck.LeadingKeyword(statements[0])
	if keyword != "SELECT" && keyword != "WITH" {
		return &RejectedStatementError{Keyword: keyword, Reason: "only read-only SELECT/WITH queries are allowed"}
	}
	for _, tok := range statements[0] {
		if tok.Type != sqlcheck.TokenIdent {
			continue
		}
		upper := strings.ToUpper(tok.Value)
		if sqlcheck.WriteKeywords[upper] {
			return &RejectedStatementError{Keyword: upper, Reason: "data-modifying statements are not allowed"}
		}
	}
	return nil
}

// StripTrailingSemicolons removes trailing semicolons and surrounding space.
func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
