package sqlcheck

import (
	"sort"
	"strings"

	"github.com/asksql/asksql/internal/schema"
)

// SchemaMismatchError lists the table and column references of a statement
// that do not exist in the schema descriptor.
type SchemaMismatchError struct {
	UnknownTables  []string
	UnknownColumns []string
}

func (e *SchemaMismatchError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.UnknownTables) > 0 {
		parts = append(parts, "unknown table(s): "+strings.Join(e.UnknownTables, ", "))
	}
	if len(e.UnknownColumns) > 0 {
		parts = append(parts, "unknown column(s): "+strings.Join(e.UnknownColumns, ", "))
	}
	return "generated SQL does not match the schema: " + strings.Join(parts, "; ")
}

// Validate checks that every table after FROM/JOIN and every column
// reference in sqlText exists in d. CTE names, subquery aliases, output
// aliases and function names are not schema references.
func Validate(sqlText string, d *schema.Descriptor) error {
	tokens, err := Tokenize(sqlText)
	if err != nil {
		return err
	}
	refs := collectReferences(tokens)

	var unknownTables, unknownColumns []string
	seen := map[string]bool{}
	note := func(list *[]string, value string) {
		key := strings.ToLower(value)
		if seen[key] {
			return
		}
		seen[key] = true
		*list = append(*list, value)
	}

	for _, table := range refs.tables {
		if refs.ctes[strings.ToLower(table)] || d.HasTable(table) {
			continue
		}
		note(&unknownTables, table)
	}

	for _, ref := range refs.qualified {
		qualifier := strings.ToLower(ref.qualifier)
		target, ok := refs.aliases[qualifier]
		if !ok {
			switch {
			case d.HasTable(ref.qualifier):
				target = ref.qualifier
			case refs.ctes[qualifier] || refs.opaque:
				continue
			default:
				note(&unknownColumns, ref.qualifier+"."+ref.column)
				continue
			}
		}
		if target == "" || ref.column == "*" || !d.HasTable(target) {
			continue
		}
		if !d.HasColumn(target, ref.column) {
			note(&unknownColumns, ref.qualifier+"."+ref.column)
		}
	}

	for _, column := range refs.bare {
		key := strings.ToLower(column)
		if refs.outputNames[key] || refs.ctes[key] {
			continue
		}
		if _, isAlias := refs.aliases[key]; isAlias {
			continue
		}
		if columnInScope(d, refs, column) {
			continue
		}
		note(&unknownColumns, column)
	}

	if len(unknownTables) == 0 && len(unknownColumns) == 0 {
		return nil
	}
	return &SchemaMismatchError{UnknownTables: unknownTables, UnknownColumns: unknownColumns}
}

// ReferencedTables returns the schema tables named after FROM/JOIN, sorted.
func ReferencedTables(sqlText string) ([]string, error) {
	tokens, err := Tokenize(sqlText)
	if err != nil {
		return nil, err
	}
	refs := collectReferences(tokens)
	out := make([]string, 0, len(refs.tables))
	for _, table := range refs.tables {
		if !refs.ctes[strings.ToLower(table)] {
			out = append(out, table)
		}
	}
	sort.Strings(out)
	return out, nil
}

func columnInScope(d *schema.Descriptor, refs references, column string) bool {
	for _, table := range refs.tables {
		if d.HasColumn(table, column) {
			return true
		}
	}
	if refs.opaque || len(refs.tables) == 0 {
		return len(d.TablesWithColumn(column)) > 0
	}
	return false
}

type qualifiedRef struct {
	qualifier string
	column    string
}

type references struct {
	tables      []string
	aliases     map[string]string
	ctes        map[string]bool
	outputNames map[string]bool
	qualified   []qualifiedRef
	bare        []string
	// opaque is set when a CTE, derived table or table function is in scope,
	// so some column names cannot be traced back to the descriptor.
	opaque bool
}

const sourceParen = "\x00source"

// special forms whose argument list may contain FROM without starting a
// FROM clause.
var specialForms = toSet("EXTRACT", "SUBSTRING", "TRIM", "OVERLAY", "POSITION")

type parenFrame struct {
	fn         string
	sourceList bool
}

func collectReferences(tokens []Token) references {
	r := references{
		aliases:     map[string]string{},
		ctes:        map[string]bool{},
		outputNames: map[string]bool{},
	}

	for i := 1; i+2 < len(tokens); i++ {
		if !tokens[i].isName() || !tokens[i+1].isKeyword("AS") || !tokens[i+2].isPunct("(") {
			continue
		}
		prev := tokens[i-1]
		if prev.isKeyword("WITH") || prev.isKeyword("RECURSIVE") || prev.isPunct(",") {
			r.ctes[strings.ToLower(tokens[i].Name())] = true
			r.opaque = true
		}
	}

	consumed := make([]bool, len(tokens))
	var stack []parenFrame
	pendingSource := false
	pendingList := false

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok.isPunct("("):
			frame := parenFrame{}
			if pendingSource {
				frame.fn = sourceParen
				frame.sourceList = pendingList
				pendingSource = false
			} else if i > 0 && tokens[i-1].isName() {
				frame.fn = strings.ToUpper(tokens[i-1].Name())
			}
			stack = append(stack, frame)
		case tok.isPunct(")"):
			if len(stack) == 0 {
				continue
			}
			frame := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if frame.fn != sourceParen {
				continue
			}
			r.opaque = true
			next := r.readAlias(tokens, i+1, consumed, "")
			if frame.sourceList && next < len(tokens) && tokens[next].isPunct(",") {
				consumed[next] = true
				next, pendingSource = r.readSources(tokens, next+1, consumed, true)
				pendingList = true
			}
			i = next - 1
		case tok.isKeyword("FROM") && !inSpecialForm(stack) && !isDistinctFrom(tokens, i), tok.isKeyword("JOIN"):
			consumed[i] = true
			list := tok.isKeyword("FROM")
			var next int
			next, pendingSource = r.readSources(tokens, i+1, consumed, list)
			pendingList = list
			i = next - 1
		}
	}

	for i, tok := range tokens {
		if consumed[i] || !tok.isName() || tok.isReserved() {
			continue
		}
		name := tok.Name()
		key := strings.ToLower(name)
		if r.ctes[key] {
			continue
		}
		if i > 0 && (tokens[i-1].isPunct(".") || tokens[i-1].Type == TokenCast) {
			continue
		}
		if i+1 < len(tokens) && tokens[i+1].isPunct("(") {
			continue
		}
		if i > 0 && (tokens[i-1].isKeyword("AS") || precedesAlias(tokens[i-1])) {
			r.outputNames[key] = true
			continue
		}
		if i+2 < len(tokens) && tokens[i+1].isPunct(".") {
			third := tokens[i+2]
			switch {
			case third.Type == TokenOperator && third.Value == "*":
				r.qualified = append(r.qualified, qualifiedRef{qualifier: name, column: "*"})
			case third.isName() && i+4 < len(tokens) && tokens[i+3].isPunct(".") && tokens[i+4].isName():
				r.qualified = append(r.qualified, qualifiedRef{qualifier: third.Name(), column: tokens[i+4].Name()})
			case third.isName():
				r.qualified = append(r.qualified, qualifiedRef{qualifier: name, column: third.Name()})
			}
			continue
		}
		r.bare = append(r.bare, name)
	}

	return r
}

// readSources consumes a FROM or JOIN source list starting at i. It stops
// before a parenthesised source, reporting it through the second result.
func (r *references) readSources(tokens []Token, i int, consumed []bool, list bool) (int, bool) {
	for i < len(tokens) {
		for i < len(tokens) && (tokens[i].isKeyword("LATERAL") || tokens[i].isKeyword("ONLY")) {
			consumed[i] = true
			i++
		}
		if i >= len(tokens) {
			return i, false
		}
		if tokens[i].isPunct("(") {
			return i, true
		}
		if !tokens[i].isName() || tokens[i].isReserved() {
			return i, false
		}

		last := tokens[i]
		consumed[i] = true
		i++
		for i+1 < len(tokens) && tokens[i].isPunct(".") && tokens[i+1].isName() {
			consumed[i], consumed[i+1] = true, true
			last = tokens[i+1]
			i += 2
		}
		if i < len(tokens) && tokens[i].isPunct("(") {
			// table function; its arguments are ordinary expressions
			r.opaque = true
			return i, false
		}

		table := last.Name()
		r.addTable(table)
		r.aliases[strings.ToLower(table)] = table
		i = r.readAlias(tokens, i, consumed, table)

		if !list || i >= len(tokens) || !tokens[i].isPunct(",") {
			return i, false
		}
		consumed[i] = true
		i++
	}
	return i, false
}

func (r *references) readAlias(tokens []Token, i int, consumed []bool, table string) int {
	if i < len(tokens) && tokens[i].isKeyword("AS") {
		consumed[i] = true
		i++
	}
	if i < len(tokens) && tokens[i].isName() && !tokens[i].isReserved() {
		consumed[i] = true
		r.aliases[strings.ToLower(tokens[i].Name())] = table
		i++
		if i < len(tokens) && tokens[i].isPunct("(") {
			// column alias list: derived names, not schema columns
			for i < len(tokens) && !tokens[i].isPunct(")") {
				if tokens[i].isName() {
					r.outputNames[strings.ToLower(tokens[i].Name())] = true
				}
				consumed[i] = true
				i++
			}
			if i < len(tokens) {
				consumed[i] = true
				i++
			}
		}
	}
	return i
}

func (r *references) addTable(table string) {
	for _, existing := range r.tables {
		if strings.EqualFold(existing, table) {
			return
		}
	}
	r.tables = append(r.tables, table)
}

// isDistinctFrom reports whether the FROM at i belongs to IS [NOT] DISTINCT FROM.
func isDistinctFrom(tokens []Token, i int) bool {
	if i < 2 || !tokens[i-1].isKeyword("DISTINCT") {
		return false
	}
	return tokens[i-2].isKeyword("IS") || (tokens[i-2].isKeyword("NOT") && i >= 3 && tokens[i-3].isKeyword("IS"))
}

func inSpecialForm(stack []parenFrame) bool {
	return len(stack) > 0 && specialForms[stack[len(stack)-1].fn]
}

// precedesAlias reports whether a name following prev is an output alias
// written without AS.
func precedesAlias(prev Token) bool {
	switch prev.Type {
	case TokenQuotedIdent, TokenString, TokenNumber, TokenParam:
		return true
	case TokenIdent:
		return !prev.isReserved() || prev.isKeyword("END")
	case TokenPunct:
		return prev.Value == ")"
	}
	return false
}
