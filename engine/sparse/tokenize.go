package sparse

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it into letter/digit runs. The same
// function is applied to chunk text at build time and query text at
// retrieval time so that term statistics line up.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
