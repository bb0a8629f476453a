package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/medgraph/chunker"
	"github.com/brunobiangulo/medgraph/store"
)

// DefaultMaxProjectionRows caps how many drugs and how many diseases are
// read per projection.
const DefaultMaxProjectionRows = 1000

// Document types produced by the projector.
const (
	DocTypeDrug    = "drug"
	DocTypeDisease = "disease"
)

// Projector renders graph neighborhoods as natural-language documents.
type Projector struct {
	store   store.Graph
	maxRows int
}

// NewProjector returns a projector over s. maxRows <= 0 selects
// DefaultMaxProjectionRows.
func NewProjector(s store.Graph, maxRows int) *Projector {
	if maxRows <= 0 {
		maxRows = DefaultMaxProjectionRows
	}
	return &Projector{store: s, maxRows: maxRows}
}

// Project returns one document per drug followed by one per disease, each
// ordered by name.
func (p *Projector) Project(ctx context.Context) ([]chunker.Document, error) {
	drugs, err := p.store.DrugNeighborhoods(ctx, p.maxRows)
	if err != nil {
		return nil, fmt.Errorf("projecting drugs: %w", err)
	}
	diseases, err := p.store.DiseaseNeighborhoods(ctx, p.maxRows)
	if err != nil {
		return nil, fmt.Errorf("projecting diseases: %w", err)
	}
	if len(drugs) == p.maxRows || len(diseases) == p.maxRows {
		slog.Warn("graph: projection hit row cap", "max_rows", p.maxRows,
			"drugs", len(drugs), "diseases", len(diseases))
	}

	docs := make([]chunker.Document, 0, len(drugs)+len(diseases))
	for _, d := range drugs {
		docs = append(docs, DrugDocument(d))
	}
	for _, d := range diseases {
		docs = append(docs, DiseaseDocument(d))
	}
	return docs, nil
}

// DrugDocument renders a drug neighborhood. Empty clauses are omitted.
func DrugDocument(d store.DrugNeighborhood) chunker.Document {
	return chunker.Document{
		Text: sentences(
			clause("Drug", d.Name),
			clause("Description", d.Description),
			clause("Treats", strings.Join(d.Treats, ", ")),
			clause("Side effects", strings.Join(d.SideEffects, ", ")),
		),
		Metadata: chunker.Metadata{
			Type:        DocTypeDrug,
			Name:        d.Name,
			Treats:      d.Treats,
			SideEffects: d.SideEffects,
		},
	}
}

// DiseaseDocument renders a disease neighborhood. Empty clauses are omitted.
func DiseaseDocument(d store.DiseaseNeighborhood) chunker.Document {
	return chunker.Document{
		Text: sentences(
			clause("Disease", d.Name),
			clause("Description", d.Description),
			clause("Treatments", strings.Join(d.Treatments, ", ")),
			clause("Symptoms", strings.Join(d.Symptoms, ", ")),
		),
		Metadata: chunker.Metadata{
			Type:       DocTypeDisease,
			Name:       d.Name,
			Treatments: d.Treatments,
			Symptoms:   d.Symptoms,
		},
	}
}

func clause(label, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return label + ": " + strings.TrimRight(value, ".") + "."
}

func sentences(parts ...string) string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
