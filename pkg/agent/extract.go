package agent

import (
	"regexp"
	"strings"
)

var (
	sqlFenceRe  = regexp.MustCompile("(?is)```sql[ \t]*\r?\n?(.*?)```")
	anyFenceRe  = regexp.MustCompile("(?s)```(?:[a-zA-Z]*[ \t]*\r?\n)?(.*?)```")
	statementRe = regexp.MustCompile(`(?im)^\s*(select|with)\b`)
)

// ExtractSQL pulls the SQL statement out of a model reply. A ```sql block wins over
// any other fenced block; without fences, leading prose before the first line that
// starts with SELECT or WITH is dropped.
func ExtractSQL(reply string) string {
	if m := sqlFenceRe.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFenceRe.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	text := strings.TrimSpace(reply)
	if loc := statementRe.FindStringIndex(text); loc != nil && loc[0] > 0 {
		text = text[loc[0]:]
	}
	return strings.TrimSpace(text)
}
