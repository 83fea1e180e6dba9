package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// FoldWords case-folds text and reduces it to single-space separated words of
// letters and digits.
func FoldWords(text string) string {
	folded := cases.Fold().String(text)
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

// MatchPhrase returns the first phrase occurring in text on word boundaries,
// ignoring case and punctuation.
func MatchPhrase(text string, phrases []string) (string, bool) {
	haystack := " " + FoldWords(text) + " "
	if len(haystack) <= 2 {
		return "", false
	}
	for _, phrase := range phrases {
		needle := FoldWords(phrase)
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, " "+needle+" ") {
			return phrase, true
		}
	}
	return "", false
}
