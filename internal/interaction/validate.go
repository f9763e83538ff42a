package interaction

import (
	"strings"

	"github.com/corgi-proxy/corgi/internal/apierr"
)

// allowedActions is the complete set of valid interaction actions after
// synonym normalization.
var allowedActions = map[string]bool{
	"favorite":       true,
	"reblog":         true,
	"reply":          true,
	"bookmark":       true,
	"view":           true,
	"more_like_this": true,
	"less_like_this": true,
	"hide":           true,
	"not_interested":  true,
}

// synonyms maps informal action names to their canonical form. Normalized
// before the membership check.
var synonyms = map[string]string{
	"share":   "reblog",
	"comment": "reply",
	"click":   "view",
}

// toggleFamilies groups actions whose effective state is "most recent
// record wins". A non-toggle action
// (e.g. view) has no family and always just appends.
var toggleFamilies = map[string][]string{
	"favorite":       {"favorite", "unfavorite"},
	"bookmark":       {"bookmark", "unbookmark"},
	"more_like_this": {"more_like_this", "less_like_this", "neutral"},
	"less_like_this": {"more_like_this", "less_like_this", "neutral"},
}

// NormalizeAction resolves synonyms, lowercases, and trims whitespace
// before the membership check.
func NormalizeAction(action string) string {
	normalized := strings.ToLower(strings.TrimSpace(action))
	if canon, ok := synonyms[normalized]; ok {
		return canon
	}
	return normalized
}

// ValidateAction normalizes and checks action membership.
func ValidateAction(action string) (string, error) {
	normalized := NormalizeAction(action)
	if !allowedActions[normalized] {
		return "", apierr.Validation(map[string]string{"action": action}, "interaction: unknown action %q", action)
	}
	return normalized, nil
}

// contextDenylist blocks keys that are prototype-pollution vectors or
// admin-scope tokens.
var contextDenylist = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
	"admin":       true,
	"is_admin":    true,
	"scope":       true,
}

// ValidateContext checks depth and key denylist for an interaction's
// optional context object.
func ValidateContext(ctx map[string]interface{}, maxDepth int) error {
	return validateContextDepth(ctx, maxDepth, 1)
}

func validateContextDepth(v interface{}, maxDepth, depth int) error {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	if depth > maxDepth {
		return apierr.Validation(nil, "interaction: context nesting exceeds max depth %d", maxDepth)
	}
	for k, val := range m {
		normalized := strings.ToLower(k)
		if contextDenylist[normalized] {
			return apierr.Validation(map[string]string{"key": k}, "interaction: context key %q is not allowed", k)
		}
		if err := validateContextDepth(val, maxDepth, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePostKeyShape checks that instance and post_id are both present
// and free of path-like or whitespace characters, matching either the
// upstream post_id shape or this service's synthetic shape.
func ValidatePostKeyShape(instance, postID string) error {
	if instance == "" || postID == "" {
		return apierr.Validation(nil, "interaction: post_key requires both instance and post_id")
	}
	if strings.ContainsAny(instance, " \t\n/") || strings.ContainsAny(postID, " \t\n") {
		return apierr.Validation(nil, "interaction: post_key contains invalid characters")
	}
	return nil
}
