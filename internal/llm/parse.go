package llm

import (
	"regexp"
	"strings"
)

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// ExtractJSONObject returns the span from the first '{' to the last '}'.
func ExtractJSONObject(raw string) (string, bool) {
	match := jsonObjectPattern.FindString(raw)
	return match, match != ""
}

// StripMarkdownSQL removes a surrounding ``` or ```sql fence.
func StripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```SQL")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
