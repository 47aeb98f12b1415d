package templatefmt

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Render substitutes {{key}} tokens from the supplied value map.
// Params: template body and flat key/value substitution map.
// Returns: rendered string; unresolved placeholders stay verbatim.
func Render(body string, values map[string]string) string {
	if body == "" || !strings.Contains(body, "{{") {
		return body
	}
	return placeholderPattern.ReplaceAllStringFunc(body, func(token string) string {
		match := placeholderPattern.FindStringSubmatch(token)
		if len(match) != 2 {
			return token
		}
		value, ok := values[match[1]]
		if !ok {
			return token
		}
		return value
	})
}

// MergeValues overlays maps left to right into one substitution set.
// Params: value maps in ascending precedence order.
// Returns: merged map; later maps win on key conflicts.
func MergeValues(maps ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, m := range maps {
		for key, value := range m {
			merged[key] = value
		}
	}
	return merged
}

// FormatMinutes renders a minute budget in compact human form.
// Params: whole minute count.
// Returns: formatted value, e.g. "15 minutes" or "1 minute".
func FormatMinutes(minutes int) string {
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
