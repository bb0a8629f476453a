package medgraph

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// snippetMaxLen is the maximum snippet length in runes.
const snippetMaxLen = 300

// extractSnippet returns the clauses of a source document that share
// significant words with the answer, in document order and bounded by
// snippetMaxLen. Projected documents are a run of "Label: value." clauses,
// so a clause is the natural unit to highlight. Returns "" when nothing
// overlaps.
func extractSnippet(content string, answerWords map[string]bool) string {
	if len(answerWords) == 0 || content == "" {
		return ""
	}

	var picked []string
	size := 0
	for _, clause := range splitClauses(content) {
		if !overlaps(clause, answerWords) {
			continue
		}
		n := utf8.RuneCountInString(clause)
		if len(picked) > 0 {
			n++ // joining space
		}
		if size+n > snippetMaxLen {
			if len(picked) == 0 {
				return truncateRunes(clause, snippetMaxLen)
			}
			break
		}
		picked = append(picked, clause)
		size += n
	}
	return strings.Join(picked, " ")
}

func overlaps(clause string, answerWords map[string]bool) bool {
	for w := range significantWords(clause) {
		if answerWords[w] {
			return true
		}
	}
	return false
}

// splitClauses splits text after '.', '!' or '?' when followed by
// whitespace or the end of text. Periods inside tokens such as "2.5 mg"
// do not split.
func splitClauses(text string) []string {
	var clauses []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if c := strings.TrimSpace(string(runes[start : i+1])); c != "" {
			clauses = append(clauses, c)
		}
		start = i + 1
	}
	if c := strings.TrimSpace(string(runes[start:])); c != "" {
		clauses = append(clauses, c)
	}
	return clauses
}

// significantWords returns the set of lowercased words of at least four
// runes, excluding stop words and the projection's clause labels.
func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if utf8.RuneCountInString(w) >= 4 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true,
	"have": true, "been": true, "were": true, "they": true,
	"their": true, "will": true, "would": true, "could": true,
	"should": true, "about": true, "which": true, "there": true,
	"these": true, "those": true, "than": true, "what": true,
	"when": true, "where": true, "your": true, "some": true,
	"also": true, "into": true, "does": true, "other": true,
	"information": true, "consult": true, "healthcare": true,
	"professional": true, "medical": true,
	// clause labels
	"drug": true, "disease": true, "description": true,
}
