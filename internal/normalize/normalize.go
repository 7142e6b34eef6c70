// Package normalize holds the text helpers shared by parsing, classification
// and persistence.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonSlugRe    = regexp.MustCompile(`[^a-z0-9]+`)

	umlauts = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")
)

// Whitespace collapses runs of whitespace into a single space and trims both ends.
func Whitespace(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// Slugify turns arbitrary text into a lowercase ASCII slug ("Brötchen Stück" -> "brotchen-stuck").
// Empty or symbol-only input yields "", callers supply their own fallback.
func Slugify(s string) string {
	s = Whitespace(s)
	if s == "" {
		return ""
	}

	s = strings.ToLower(toASCII(s))
	s = nonSlugRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Fold lowercases s, spells out German umlauts ("ü" -> "ue"), transliterates
// the remaining letters to ASCII and collapses everything that is not [a-z0-9]
// into single spaces. It is the matching form used for keyword rules and
// name lookups.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	s = umlauts.Replace(strings.ToLower(s))
	s = strings.ToLower(toASCII(s))
	return strings.TrimSpace(nonSlugRe.ReplaceAllString(s, " "))
}

// toASCII strips diacritics via NFKD decomposition and drops whatever is
// still outside the ASCII range.
func toASCII(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		decomposed = s
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}
