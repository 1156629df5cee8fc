package resource

import (
	"strings"
	"unicode"
)

// toKebab converts a resource name to the kebab-case segment used in
// application service routes ("IdentityUser" -> "identity-user").
// Punctuation collapses into a single dash so derived paths never carry
// characters the backend router rejects.
func toKebab(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastDash := false

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 && !lastDash {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (nextLower && unicode.IsUpper(prev)) {
					b.WriteByte('-')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastDash = false

		case unicode.IsLower(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false

		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	return strings.Trim(b.String(), "-")
}
