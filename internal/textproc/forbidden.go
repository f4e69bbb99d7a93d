package textproc

import (
	"regexp"
	"strings"
)

// Redacted replaces forbidden terms that have no entry in the substitution
// table.
const Redacted = "[REDACTED]"

var substitutes = map[string]string{
	"damn":                   "darn",
	"possessive":             "protective",
	"possessiveness":         "protectiveness",
	"butterflies in stomach": "nervous excitement",
	"butterflies":            "fluttering feeling",
	"knot":                   "tightness",
}

// Substitute returns the replacement for a forbidden term.
func Substitute(term string) string {
	if s, ok := substitutes[strings.ToLower(term)]; ok {
		return s
	}
	return Redacted
}

// ParseWordList splits a comma separated list, dropping blank items.
func ParseWordList(s string) []string {
	var words []string
	for _, w := range strings.Split(s, ",") {
		w = strings.TrimSpace(w)
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

// CheckForbiddenWords reports which of words occur in text, case-insensitively.
func CheckForbiddenWords(text string, words []string) (bool, []string) {
	if text == "" || len(words) == 0 {
		return false, nil
	}
	lower := strings.ToLower(text)
	var found []string
	for _, w := range words {
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			found = append(found, w)
		}
	}
	return len(found) > 0, found
}

// ReplaceForbiddenWords replaces every case-insensitive occurrence of each
// word, in list order, with its substitute. List order matters for
// overlapping terms: put longer phrases first.
func ReplaceForbiddenWords(text string, words []string) string {
	if text == "" || len(words) == 0 {
		return text
	}
	return NewForbiddenReplacer(words).Replace(text)
}

type forbiddenTerm struct {
	lower string
	re    *regexp.Regexp
	sub   string
}

// ForbiddenReplacer holds compiled patterns for a word list so that repeated
// calls, one per stream chunk for example, do not recompile them.
type ForbiddenReplacer struct {
	terms []forbiddenTerm
}

// NewForbiddenReplacer compiles words in list order. Blank words are skipped.
func NewForbiddenReplacer(words []string) *ForbiddenReplacer {
	r := &ForbiddenReplacer{}
	for _, w := range words {
		if w == "" {
			continue
		}
		r.terms = append(r.terms, forbiddenTerm{
			lower: strings.ToLower(w),
			re:    regexp.MustCompile("(?i)" + regexp.QuoteMeta(w)),
			sub:   Substitute(w),
		})
	}
	return r
}

// Replace behaves like ReplaceForbiddenWords with the compiled list. A nil
// replacer returns text unchanged.
func (r *ForbiddenReplacer) Replace(text string) string {
	if r == nil || text == "" {
		return text
	}
	for _, t := range r.terms {
		if !strings.Contains(strings.ToLower(text), t.lower) {
			continue
		}
		text = t.re.ReplaceAllLiteralString(text, t.sub)
	}
	return text
}
