package analysis

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// The repair pass is a small ordered pipeline of independent rules. Each rule
// is (name, applies, fix); rules run in order on the accumulated text and the
// result is re-validated after every applied rule so a single fix can end the
// pass early. Rules only handle the truncation and wrapper damage actually
// seen from the service; anything beyond that fails parse with the original
// error preserved.
type repairRule struct {
	name    string
	applies func(string) bool
	fix     func(string) string
}

var truncatedNumericArray = regexp.MustCompile(`\[\s*(?:-?\d+\s*,\s*)*-?\d*\s*,?\s*$`)

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

var repairRules = []repairRule{
	{
		name: "strip-code-fence",
		applies: func(s string) bool {
			return strings.HasPrefix(strings.TrimSpace(s), "```")
		},
		fix: stripCodeFence,
	},
	{
		name: "close-truncated-array",
		applies: func(s string) bool {
			return truncatedNumericArray.MatchString(s)
		},
		fix: func(s string) string {
			s = strings.TrimRight(s, " \t\n\r")
			s = strings.TrimRight(s, ",")
			return s + "]"
		},
	},
	{
		name: "strip-trailing-commas",
		applies: func(s string) bool {
			return trailingComma.MatchString(s)
		},
		fix: func(s string) string {
			return trailingComma.ReplaceAllString(s, "$1")
		},
	},
	{
		name: "close-unterminated-string",
		applies: func(s string) bool {
			return countUnescapedQuotes(s)%2 == 1
		},
		fix: closeUnterminatedString,
	},
	{
		name: "balance-brackets",
		applies: func(s string) bool {
			return len(openBrackets(s)) > 0
		},
		fix: func(s string) string {
			open := openBrackets(s)
			var b strings.Builder
			b.WriteString(s)
			for i := len(open) - 1; i >= 0; i-- {
				if open[i] == '{' {
					b.WriteByte('}')
				} else {
					b.WriteByte(']')
				}
			}
			return b.String()
		},
	},
}

// Repair attempts to coerce a malformed structured payload into valid JSON.
// It returns the repaired text and whether it now parses. The input is
// returned unchanged when already valid.
func Repair(raw string, logger *zap.Logger) (string, bool) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := raw
	if json.Valid([]byte(s)) {
		return s, true
	}

	for _, rule := range repairRules {
		if !rule.applies(s) {
			continue
		}
		s = rule.fix(s)
		logger.Debug("applied repair rule", zap.String("rule", rule.name))
		if json.Valid([]byte(s)) {
			return s, true
		}
	}

	return s, json.Valid([]byte(s))
}

// stripCodeFence removes a markdown code-fence wrapper (```json ... ```),
// tolerating a missing closing fence on truncated output.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	firstNewline := strings.Index(trimmed, "\n")
	if firstNewline == -1 {
		return s
	}
	content := trimmed[firstNewline+1:]
	if lastFence := strings.LastIndex(content, "```"); lastFence != -1 {
		content = content[:lastFence]
	}
	return strings.TrimSpace(content)
}

// countUnescapedQuotes counts double quotes that open or close JSON strings.
func countUnescapedQuotes(s string) int {
	count := 0
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '"':
			count++
		}
	}
	return count
}

// closeUnterminatedString inserts the missing closing quote. If the text
// already ends with closing braces or brackets, the quote goes just before
// that trailing run so the string closes inside the structure.
func closeUnterminatedString(s string) string {
	i := len(s)
	for i > 0 {
		c := s[i-1]
		if c == '}' || c == ']' || c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == ',' {
			i--
			continue
		}
		break
	}
	return s[:i] + `"` + s[i:]
}

// openBrackets returns the stack of unclosed braces/brackets outside strings,
// outermost first.
func openBrackets(s string) []byte {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{' || c == '[':
			stack = append(stack, c)
		case c == '}' || c == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return stack
}
