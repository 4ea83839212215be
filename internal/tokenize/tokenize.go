// Package tokenize turns document text into index terms.
package tokenize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const minTokenRunes = 2

// Words splits text into lower-cased terms. A term is a run of letters and
// digits, optionally joined by apostrophes ("don't"). Terms shorter than two
// runes and purely numeric terms are dropped.
func Words(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r)
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		word := strings.Trim(field, "'’")
		if utf8.RuneCountInString(word) < minTokenRunes || isNumeric(word) {
			continue
		}
		out = append(out, strings.ToLower(word))
	}
	return out
}

// Normalize prepares a query term the same way Words prepares document text.
func Normalize(term string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(term), "'’"))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '’'
}

func isNumeric(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
