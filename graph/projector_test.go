package graph

import (
	"testing"

	"github.com/brunobiangulo/medgraph/store"
)

func TestDrugDocument(t *testing.T) {
	doc := DrugDocument(store.DrugNeighborhood{
		Name:        "Glucophage",
		Description: "Oral antihyperglycemic.",
		Treats:      []string{"polycystic ovary syndrome", "type 2 diabetes"},
		SideEffects: []string{"diarrhea", "nausea"},
	})
	want := "Drug: Glucophage. Description: Oral antihyperglycemic. " +
		"Treats: polycystic ovary syndrome, type 2 diabetes. Side effects: diarrhea, nausea."
	if doc.Text != want {
		t.Errorf("text = %q\nwant  %q", doc.Text, want)
	}
	if doc.Metadata.Type != DocTypeDrug || doc.Metadata.Name != "Glucophage" {
		t.Errorf("metadata = %+v", doc.Metadata)
	}
	if len(doc.Metadata.SideEffects) != 2 {
		t.Errorf("side effects = %v", doc.Metadata.SideEffects)
	}
}

func TestDocumentsOmitEmptyClauses(t *testing.T) {
	if got := DrugDocument(store.DrugNeighborhood{Name: "aspirin"}).Text; got != "Drug: aspirin." {
		t.Errorf("drug text = %q", got)
	}
	doc := DiseaseDocument(store.DiseaseNeighborhood{Name: "asthma", Symptoms: []string{"wheezing"}})
	if doc.Text != "Disease: asthma. Symptoms: wheezing." {
		t.Errorf("disease text = %q", doc.Text)
	}
	if doc.Metadata.Type != DocTypeDisease || len(doc.Metadata.Treatments) != 0 {
		t.Errorf("metadata = %+v", doc.Metadata)
	}
}
