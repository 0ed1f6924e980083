package repositorycache

import (
	"strings"
	"unicode"
)

// toSnake lowers a Go type name to snake_case. Anything that is not a letter
// or a digit separates words, so package paths and type parameters of
// reflected names never reach the cache keys.
func toSnake(s string) string {
	return strings.Join(splitWords(s), "_")
}

// splitWords splits s on case changes, letter/digit changes and separators.
// An upper case run followed by a lower case letter ends one letter early,
// so "APIToken" splits into "api" and "token".
func splitWords(s string) []string {
	runes := []rune(s)

	var (
		words []string
		word  []rune
	)
	flush := func() {
		if len(word) > 0 {
			words = append(words, strings.ToLower(string(word)))
			word = word[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(word) > 0 {
			prev := word[len(word)-1]
			switch {
			case unicode.IsDigit(r) != unicode.IsDigit(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsLower(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsUpper(prev) &&
				i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				flush()
			}
		}
		word = append(word, r)
	}
	flush()
	return words
}
