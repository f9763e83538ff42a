package interaction

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/corgi-proxy/corgi/internal/apierr"
)

// sqlInjectionPattern holds a compiled regex recognizing a SQL-injection
// signature in free-text fields (name + compiled regex).
type sqlInjectionPattern struct {
	Name  string
	Regex *regexp.Regexp
}

var sqlInjectionPatterns = []*sqlInjectionPattern{
	{Name: "union_select", Regex: regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{Name: "or_tautology", Regex: regexp.MustCompile(`(?i)\bor\b\s*['"]?\s*\d+\s*=\s*\d+`)},
	{Name: "stacked_query", Regex: regexp.MustCompile(`(?i);\s*(drop|delete|insert|update|alter)\s+`)},
	{Name: "comment_terminator", Regex: regexp.MustCompile(`(--|#|/\*)\s*$`)},
	{Name: "sleep_probe", Regex: regexp.MustCompile(`(?i)\b(sleep|pg_sleep|waitfor\s+delay)\s*\(`)},
}

// SanitizeFreeText rejects outright: null bytes, control characters
// outside tab, strings exceeding maxLength before normalization,
// SQL-injection signatures, and strings that collide with an action
// token after whitespace/case normalization.
func SanitizeFreeText(field, value string, maxLength int) error {
	if len(value) > maxLength {
		return apierr.Validation(map[string]string{"field": field}, "interaction: %s exceeds max length %d", field, maxLength)
	}
	for _, r := range value {
		if r == 0 {
			return apierr.Validation(map[string]string{"field": field}, "interaction: %s contains a null byte", field)
		}
		if unicode.IsControl(r) && r != '\t' {
			return apierr.Validation(map[string]string{"field": field}, "interaction: %s contains a disallowed control character", field)
		}
	}
	for _, p := range sqlInjectionPatterns {
		if p.Regex.MatchString(value) {
			return apierr.Validation(map[string]string{"field": field, "pattern": p.Name}, "interaction: %s matches a disallowed pattern", field)
		}
	}
	normalized := strings.ToLower(strings.TrimSpace(value))
	if allowedActions[normalized] {
		return apierr.Validation(map[string]string{"field": field}, "interaction: %s collides with an action token", field)
	}
	return nil
}
