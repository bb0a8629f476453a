package graph

import (
	"strings"

	"github.com/brunobiangulo/medgraph/store"
)

// NER mention labels produced by the upstream entity recognizer.
const (
	MentionDisease  = "DISEASE"
	MentionSymptom  = "SYMPTOM"
	MentionChemical = "CHEMICAL"
)

// mentionLabels maps recognizer labels to node labels.
var mentionLabels = map[string]store.Label{
	MentionDisease:  store.LabelDisease,
	MentionSymptom:  store.LabelSymptom,
	MentionChemical: store.LabelChemical,
}

// DefaultEntityLabels are the node labels created from NER mentions when
// the caller does not narrow the set.
var DefaultEntityLabels = []store.Label{store.LabelDisease, store.LabelSymptom, store.LabelChemical}

// LabelForMention returns the node label for a recognizer label.
func LabelForMention(label string) (store.Label, bool) {
	l, ok := mentionLabels[strings.ToUpper(strings.TrimSpace(label))]
	return l, ok
}

// Relation describes how a predicate is stored: the edge type, the
// endpoint labels it binds (empty matches any label) and the confidence
// assigned to every edge of that kind.
type Relation struct {
	Type       store.EdgeType
	Subject    store.Label
	Object     store.Label
	Confidence float64
}

// Predicates recognized in relation triples. Anything else is stored as
// RELATED_TO with the predicate kept as the relation type.
const (
	PredTreats        = "treats"
	PredCauses        = "causes"
	PredHasSymptom    = "has_symptom"
	PredInteractsWith = "interacts_with"
)

// relations is the predicate registry. New relation kinds are added here.
var relations = map[string]Relation{
	PredTreats:        {Type: store.EdgeTreats, Subject: store.LabelDrug, Object: store.LabelDisease, Confidence: 0.7},
	PredCauses:        {Type: store.EdgeCauses, Subject: store.LabelDrug, Object: store.LabelSymptom, Confidence: 0.6},
	PredHasSymptom:    {Type: store.EdgeHasSymptom, Subject: store.LabelDisease, Object: store.LabelSymptom, Confidence: 0.6},
	PredInteractsWith: {Type: store.EdgeInteractsWith, Subject: store.LabelDrug, Object: store.LabelDrug, Confidence: 0.7},
}

// relatedTo is used for every unregistered predicate.
var relatedTo = Relation{Type: store.EdgeRelatedTo, Confidence: 0.5}

// LookupRelation resolves a predicate through the registry. The second
// return is false when the predicate fell back to RELATED_TO.
func LookupRelation(predicate string) (Relation, bool) {
	r, ok := relations[canonicalPredicate(predicate)]
	if !ok {
		return relatedTo, false
	}
	return r, true
}

// canonicalPredicate lowercases and joins words with underscores so that
// "Has Symptom" and "has_symptom" resolve to the same entry.
func canonicalPredicate(p string) string {
	return strings.Join(strings.Fields(strings.ToLower(p)), "_")
}
