// Package matcher decides whether a stored knowledge entry answers a caller's
// question.
package matcher

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/kalambet/frontdesk/internal/storage"
)

// Matcher picks the entry that answers question from an ordered candidate
// list. Candidates are expected most relevant first; ok is false when none
// is adequate and the caller must escalate.
type Matcher interface {
	Match(question string, candidates []storage.KnowledgeEntry) (entry storage.KnowledgeEntry, ok bool)
}

// Func adapts an ordinary function to the Matcher interface.
type Func func(question string, candidates []storage.KnowledgeEntry) (storage.KnowledgeEntry, bool)

// Match calls f(question, candidates).
func (f Func) Match(question string, candidates []storage.KnowledgeEntry) (storage.KnowledgeEntry, bool) {
	return f(question, candidates)
}

// Containment accepts an entry when either normalized question contains the
// other. The first accepted candidate wins, so the candidate order decides ties.
//
// This is deliberately permissive: short entry questions such as "hours"
// match any caller question mentioning them, and paraphrases never match.
type Containment struct{}

// Match implements Matcher.
func (Containment) Match(question string, candidates []storage.KnowledgeEntry) (storage.KnowledgeEntry, bool) {
	q := Normalize(question)
	if q == "" {
		return storage.KnowledgeEntry{}, false
	}
	for _, c := range candidates {
		if Contains(q, Normalize(c.Question)) {
			return c, true
		}
	}
	return storage.KnowledgeEntry{}, false
}

// Contains reports whether two normalized strings contain one another.
// An empty side never matches.
func Contains(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Normalize trims, composes to NFC and case-folds s so that comparisons
// ignore case and Unicode representation differences.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// A Caser holds state and must not be shared between goroutines.
	return cases.Fold().String(norm.NFC.String(s))
}

// Default is the matcher used when none is configured.
var Default Matcher = Containment{}
