package graph

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/brunobiangulo/medgraph/store"
)

// minKeyLength is the shortest canonical key (exclusive) that may become a
// node. Shorter mentions are mostly abbreviations and recognizer noise.
const minKeyLength = 2

// Canonicalize trims, lowercases and collapses internal whitespace.
func Canonicalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Acceptable reports whether a canonical key is long enough to become a node.
func Acceptable(key string) bool {
	return utf8.RuneCountInString(key) > minKeyLength
}

// NodeID derives the identifier of a non-drug node from its canonical key.
func NodeID(label store.Label, key string) string {
	return strings.ToLower(string(label)) + "_" + strings.ReplaceAll(key, " ", "_")
}

// MentionSet accumulates unique canonical keys per label across a batch.
type MentionSet struct {
	keys map[store.Label]map[string]struct{}
}

// NewMentionSet returns an empty set.
func NewMentionSet() *MentionSet {
	return &MentionSet{keys: make(map[store.Label]map[string]struct{})}
}

// Add canonicalizes text and records it under label. It returns false when
// the mention was filtered out for being too short.
func (m *MentionSet) Add(label store.Label, text string) bool {
	key := Canonicalize(text)
	if !Acceptable(key) {
		return false
	}
	set, ok := m.keys[label]
	if !ok {
		set = make(map[string]struct{})
		m.keys[label] = set
	}
	set[key] = struct{}{}
	return true
}

// Keys returns the sorted keys recorded for label.
func (m *MentionSet) Keys(label store.Label) []string {
	set := m.keys[label]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of unique (label, key) pairs.
func (m *MentionSet) Len() int {
	n := 0
	for _, set := range m.keys {
		n += len(set)
	}
	return n
}
