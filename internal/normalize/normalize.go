// Package normalize canonicalizes document text before it is shingled.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiPunctuation mirrors the classic ASCII punctuation set. Several of
// these ($+<=>^`|~) are Unicode symbols rather than punctuation.
const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

var dropped = runes.Predicate(func(r rune) bool {
	switch {
	case unicode.Is(unicode.Mn, r):
		return true
	case unicode.Is(unicode.Cf, r):
		return true
	case unicode.IsControl(r) && !unicode.IsSpace(r):
		return true
	case unicode.IsPunct(r):
		return true
	case r < unicode.MaxASCII && strings.ContainsRune(asciiPunctuation, r):
		return true
	}
	return false
})

// Text lowercases, decomposes (NFD), strips combining marks, control and
// format code points and punctuation, then collapses whitespace runs to a
// single space. The result does not depend on the process locale.
func Text(raw string) string {
	if raw == "" {
		return ""
	}

	// transform.Chain values are stateful; build one per call so Text is
	// safe to use from many workers.
	chain := transform.Chain(norm.NFD, runes.Remove(dropped))
	decomposed, _, err := transform.String(chain, strings.ToLower(raw))
	if err != nil {
		decomposed = strings.ToLower(raw)
	}
	return CollapseWhitespace(decomposed)
}

// CollapseWhitespace joins all whitespace-separated fields with one space.
// Newlines are whitespace too, so the result always fits on a single line.
func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
