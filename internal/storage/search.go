package storage

import (
	"strings"
	"unicode"
)

// stopWords are dropped from full-text queries so that filler like "what are
// your" does not outrank the one content word that matters.
var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "am": {}, "an": {}, "and": {}, "any": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "been": {}, "but": {}, "by": {}, "can": {}, "could": {}, "did": {}, "do": {}, "does": {},
	"for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "how": {}, "i": {}, "if": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "our": {},
	"please": {}, "so": {}, "that": {}, "the": {}, "their": {}, "there": {}, "this": {}, "to": {},
	"was": {}, "we": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {},
	"will": {}, "with": {}, "would": {}, "you": {}, "your": {},
}

// searchTerms splits a free-form question into lowercase content words.
// Only letters and digits survive, so the terms are safe to embed in FTS5
// and tsquery expressions.
func searchTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// ftsMatchQuery builds an FTS5 MATCH expression where any term may match:
// "what are your hours" -> `"hours"`, "bridal packages" -> `"bridal" OR "packages"`.
func ftsMatchQuery(query string) string {
	terms := searchTerms(query)
	for i, t := range terms {
		terms[i] = `"` + t + `"`
	}
	return strings.Join(terms, " OR ")
}

// tsQuery builds the PostgreSQL equivalent of ftsMatchQuery for to_tsquery.
func tsQuery(query string) string {
	return strings.Join(searchTerms(query), " | ")
}
