package search

import (
	"strings"
	"unicode"
)

// Words ignored when matching a query against transcribed text.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "be": {}, "is": {}, "are": {},
	"was": {}, "to": {}, "of": {}, "and": {}, "in": {}, "that": {},
	"have": {}, "it": {}, "for": {}, "not": {}, "on": {}, "with": {},
	"as": {}, "you": {}, "do": {}, "at": {}, "this": {}, "but": {},
	"by": {}, "from": {},
}

// words lowercases text and splits it on anything that is not a letter or
// digit. OCR output glues tokens with odd punctuation ("Total:10", "#42"),
// so whitespace alone is not enough.
func words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, w := range fields {
		if _, stop := stopWords[w]; !stop {
			out = append(out, w)
		}
	}
	return out
}

// containsAllQueryWords reports whether every non stop word of query
// occurs in document.
func containsAllQueryWords(document, query string) bool {
	queryWords := words(query)
	if len(queryWords) == 0 {
		return false
	}

	present := make(map[string]struct{})
	for _, w := range words(document) {
		present[w] = struct{}{}
	}
	for _, w := range queryWords {
		if _, ok := present[w]; !ok {
			return false
		}
	}
	return true
}
