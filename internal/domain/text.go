package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldAccents strips diacritics ("Contrôle" -> "Controle"). Input that
// fails to transform is returned unchanged.
func FoldAccents(s string) string {
	out, _, err := transform.String(accentFolder, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeKey lowercases, folds accents and strips every non-alphanumeric
// rune. Fingerprints are built from these normalized parts so that accent
// and punctuation variants of the same listing collide.
func NormalizeKey(s string) string {
	folded := strings.ToLower(FoldAccents(s))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
