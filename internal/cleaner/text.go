package cleaner

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// printable drops control and other non-printable runes but keeps whitespace.
var printable = runes.Remove(runes.Predicate(func(r rune) bool {
	return !unicode.IsPrint(r) && !unicode.IsSpace(r)
}))

// NormalizeText removes non-printable characters, collapses whitespace runs
// to one space and trims the ends. Removal runs first so the result is stable
// under repeated application.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	if out, _, err := transform.String(printable, s); err == nil {
		s = out
	}
	return strings.Join(strings.Fields(s), " ")
}
