package utils

import (
	"regexp"
	"strings"
)

var slugRegex = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a display name into a URL- and path-segment-safe slug:
// lowercased, non-alphanumeric runs collapsed to a single hyphen, and
// leading/trailing hyphens trimmed. Organization slugs use this directly;
// uniqueness among siblings is enforced by the organization repository,
// not by this function.
func Slugify(name string) string {
	slug := strings.ToLower(name)
	slug = slugRegex.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
