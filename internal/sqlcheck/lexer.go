// Package sqlcheck tokenizes generated SQL and checks it against the schema
// descriptor without executing it.
package sqlcheck

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

const (
	TokenIdent       = "Ident"
	TokenQuotedIdent = "QuotedIdent"
	TokenString      = "String"
	TokenNumber      = "Number"
	TokenParam       = "Param"
	TokenCast        = "Cast"
	TokenOperator    = "Operator"
	TokenPunct       = "Punct"
	TokenOther       = "Other"
)

var sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\n]*|/\*(?:[^*]|\*+[^*/])*\*+/`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: TokenString, Pattern: `[eE]?'(?:''|\\'|[^'])*'`},
	{Name: TokenQuotedIdent, Pattern: `"(?:""|[^"])*"`},
	{Name: TokenNumber, Pattern: `(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d+)?`},
	{Name: TokenParam, Pattern: `\$\d+|\?`},
	{Name: TokenCast, Pattern: `::`},
	{Name: TokenIdent, Pattern: `[\p{L}_][\p{L}\p{N}_$]*`},
	{Name: TokenOperator, Pattern: `<>|!=|<=|>=|\|\||->>|->|#>>|#>|@>|<@|[-+*/%=<>~!^&|@#]`},
	{Name: TokenPunct, Pattern: `[(),;.\[\]:{}]`},
	{Name: TokenOther, Pattern: `\S`},
})

var symbolNames = func() map[lexer.TokenType]string {
	out := map[lexer.TokenType]string{}
	for name, tokenType := range sqlLexer.Symbols() {
		out[tokenType] = name
	}
	return out
}()

type Token struct {
	Type   string
	Value  string
	Offset int
}

// Tokenize splits sqlText into significant tokens. Whitespace and comments
// are dropped.
func Tokenize(sqlText string) ([]Token, error) {
	lex, err := sqlLexer.LexString("", sqlText)
	if err != nil {
		return nil, fmt.Errorf("tokenize sql: %w", err)
	}
	raw, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, fmt.Errorf("tokenize sql: %w", err)
	}
	out := make([]Token, 0, len(raw))
	for _, tok := range raw {
		if tok.EOF() {
			break
		}
		name := symbolNames[tok.Type]
		if name == "Whitespace" || name == "Comment" {
			continue
		}
		out = append(out, Token{Type: name, Value: tok.Value, Offset: tok.Pos.Offset})
	}
	return out, nil
}

// Statements splits tokens on top-level semicolons and drops empty statements.
func Statements(tokens []Token) [][]Token {
	var out [][]Token
	start := 0
	for i, tok := range tokens {
		if tok.Type == TokenPunct && tok.Value == ";" {
			if i > start {
				out = append(out, tokens[start:i])
			}
			start = i + 1
		}
	}
	if start < len(tokens) {
		out = append(out, tokens[start:])
	}
	return out
}

// LeadingKeyword returns the upper-cased first keyword of the statement,
// skipping opening parentheses, or "" when it does not start with one.
func LeadingKeyword(tokens []Token) string {
	for _, tok := range tokens {
		if tok.Type == TokenPunct && tok.Value == "(" {
			continue
		}
		if tok.Type == TokenIdent {
			return strings.ToUpper(tok.Value)
		}
		return ""
	}
	return ""
}

// LooksLikeSQL reports whether text starts with a SQL statement keyword.
func LooksLikeSQL(text string) bool {
	tokens, err := Tokenize(text)
	if err != nil {
		return false
	}
	return statementKeywords[LeadingKeyword(tokens)]
}

// Name returns the identifier text with quotes removed.
func (t Token) Name() string {
	if t.Type == TokenQuotedIdent && len(t.Value) >= 2 {
		return strings.ReplaceAll(t.Value[1:len(t.Value)-1], `""`, `"`)
	}
	return t.Value
}

func (t Token) isName() bool {
	return t.Type == TokenIdent || t.Type == TokenQuotedIdent
}

func (t Token) isKeyword(keyword string) bool {
	return t.Type == TokenIdent && strings.EqualFold(t.Value, keyword)
}

func (t Token) isReserved() bool {
	return t.Type == TokenIdent && keywords[strings.ToUpper(t.Value)]
}

func (t Token) isPunct(value string) bool {
	return t.Type == TokenPunct && t.Value == value
}

var statementKeywords = toSet(
	"SELECT", "WITH", "VALUES", "TABLE", "INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT", "REPLACE",
	"CREATE", "DROP", "ALTER", "TRUNCATE", "GRANT", "REVOKE", "COPY", "CALL", "DO", "EXPLAIN",
	"SHOW", "SET", "RESET", "BEGIN", "START", "COMMIT", "ROLLBACK", "VACUUM", "ANALYZE", "REFRESH",
	"ATTACH", "DETACH", "PRAGMA", "INSTALL", "LOAD", "EXPORT", "IMPORT", "LOCK", "COMMENT", "DESCRIBE",
)

// WriteKeywords modify data or schema wherever they appear in a statement.
var WriteKeywords = toSet(
	"INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT", "CREATE", "DROP", "ALTER", "TRUNCATE",
	"GRANT", "REVOKE", "COPY", "VACUUM", "ATTACH", "DETACH", "PRAGMA",
)

var keywords = toSet(
	"SELECT", "FROM", "WHERE", "AND", "OR", "NOT", "IN", "IS", "NULL", "LIKE", "ILIKE", "BETWEEN",
	"AS", "ON", "JOIN", "INNER", "LEFT", "RIGHT", "FULL", "OUTER", "CROSS", "NATURAL", "USING",
	"GROUP", "BY", "ORDER", "HAVING", "LIMIT", "OFFSET", "FETCH", "FIRST", "NEXT", "ROWS", "ROW",
	"ONLY", "DISTINCT", "ALL", "ANY", "SOME", "EXISTS", "UNION", "INTERSECT", "EXCEPT", "CASE",
	"WHEN", "THEN", "ELSE", "END", "ASC", "DESC", "NULLS", "LAST", "WITH", "RECURSIVE", "TRUE",
	"FALSE", "CAST", "INTERVAL", "DATE", "TIME", "TIMESTAMP", "TIMESTAMPTZ", "OVER", "PARTITION",
	"WINDOW", "FILTER", "WITHIN", "LATERAL", "VALUES", "CURRENT_DATE", "CURRENT_TIME",
	"CURRENT_TIMESTAMP", "LOCALTIME", "LOCALTIMESTAMP", "CURRENT_USER", "SESSION_USER", "SIMILAR",
	"TO", "ESCAPE", "RANGE", "PRECEDING", "FOLLOWING", "UNBOUNDED", "CURRENT", "AT", "ZONE",
	"SYMMETRIC", "FOR", "OF", "TIES", "PERCENT", "BOTH", "LEADING", "TRAILING", "COLLATE",
	"YEAR", "MONTH", "DAY", "HOUR", "MINUTE", "SECOND", "EPOCH", "DOW", "DOY", "ISODOW", "QUARTER",
	"WEEK", "CENTURY", "DECADE", "MILLENNIUM", "MILLISECONDS", "MICROSECONDS",
	"INTEGER", "INT", "BIGINT", "SMALLINT", "NUMERIC", "DECIMAL", "REAL", "DOUBLE", "PRECISION",
	"FLOAT", "TEXT", "VARCHAR", "CHAR", "CHARACTER", "VARYING", "BOOLEAN", "BOOL", "JSON", "JSONB",
	"UUID", "INSERT", "UPDATE", "DELETE", "MERGE", "CREATE", "DROP", "ALTER", "TRUNCATE", "SET",
	"INTO", "DEFAULT", "RETURNING", "TABLE",
)

func toSet(values ...string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, value := range values {
		out[value] = true
	}
	return out
}
