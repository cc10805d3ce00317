package util

import (
	"strings"
)

// Slugify converts a human name to a slug: lowercase, alphanumeric runs
// joined by hyphens, truncated to 40 characters. Duty and mission slugs
// appear in prompts (e.g. "[DUTY] /morning-reset") so they must stay
// readable and shell-safe.
func Slugify(name string) string {
	if name == "" {
		return "untitled"
	}

	lower := strings.ToLower(name)
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range lower {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "untitled"
	}
	if len(slug) > 40 {
		slug = slug[:40]
		if i := strings.LastIndex(slug, "-"); i > 20 {
			slug = slug[:i]
		}
	}
	return slug
}
