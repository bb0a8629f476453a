package medgraph

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtractSnippetPicksMatchingClauses(t *testing.T) {
	content := "Drug: glucophage. Description: oral antihyperglycemic. Treats: type 2 diabetes. Side effects: nausea, diarrhea."
	answerWords := significantWords("Glucophage is used to treat type 2 diabetes.")

	got := extractSnippet(content, answerWords)
	want := "Drug: glucophage. Treats: type 2 diabetes."
	if got != want {
		t.Errorf("snippet = %q, want %q", got, want)
	}
}

func TestExtractSnippetNoOverlap(t *testing.T) {
	content := "Disease: asthma. Symptoms: wheezing."
	if s := extractSnippet(content, significantWords("quantum computing uses qubits")); s != "" {
		t.Errorf("expected empty snippet, got %q", s)
	}
}

func TestExtractSnippetEmptyInputs(t *testing.T) {
	if s := extractSnippet("", map[string]bool{"test": true}); s != "" {
		t.Errorf("expected empty for empty content, got %q", s)
	}
	if s := extractSnippet("some content here.", nil); s != "" {
		t.Errorf("expected empty for nil answer words, got %q", s)
	}
}

func TestExtractSnippetRespectsMaxLen(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Treats: hypertension and related cardiovascular conditions. ")
	}
	snippet := extractSnippet(b.String(), significantWords("hypertension"))
	if n := utf8.RuneCountInString(snippet); n == 0 || n > snippetMaxLen {
		t.Errorf("snippet length %d outside (0, %d]", n, snippetMaxLen)
	}
}

func TestExtractSnippetTruncatesLongClause(t *testing.T) {
	content := "Description: " + strings.Repeat("hypertension ", 60) + "."
	snippet := extractSnippet(content, significantWords("hypertension"))
	if utf8.RuneCountInString(snippet) != snippetMaxLen {
		t.Errorf("snippet length = %d, want %d", utf8.RuneCountInString(snippet), snippetMaxLen)
	}
}

func TestSplitClausesKeepsDecimals(t *testing.T) {
	got := splitClauses("Dose: 2.5 mg daily. Side effects: dizziness")
	if len(got) != 2 || got[0] != "Dose: 2.5 mg daily." || got[1] != "Side effects: dizziness" {
		t.Errorf("clauses = %q", got)
	}
}

func TestSignificantWords(t *testing.T) {
	words := significantWords("The drug Metformin treats diabetes. This is very important.")
	for _, w := range []string{"metformin", "treats", "diabetes", "important"} {
		if !words[w] {
			t.Errorf("expected %q in significant words", w)
		}
	}
	for _, w := range []string{"the", "drug", "this", "is"} {
		if words[w] {
			t.Errorf("did not expect %q in significant words", w)
		}
	}
}
