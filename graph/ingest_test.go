//go:build cgo

package graph

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/medgraph/parser"
	"github.com/brunobiangulo/medgraph/store"
)

type countingRecorder struct {
	nodes   map[string]int
	edges   map[string]int
	skipped map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{nodes: map[string]int{}, edges: map[string]int{}, skipped: map[string]int{}}
}

func (r *countingRecorder) NodeUpserted(label string)      { r.nodes[label]++ }
func (r *countingRecorder) EdgeUpserted(edgeType string)   { r.edges[edgeType]++ }
func (r *countingRecorder) RowSkipped(kind, reason string) { r.skipped[kind+"/"+reason]++ }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var (
	testDrugs = []parser.DrugRecord{
		{ID: "D1", ProductName: []string{"Glucophage"}, GenericName: []string{"metformin"}},
		{ID: "D2", GenericName: []string{"ibuprofen"}, Description: "Nonsteroidal anti-inflammatory drug"},
		{ID: "D3", ProductName: []string{"Coumadin"}, GenericName: []string{"warfarin"}},
	}
	testEntities = []parser.EntityRecord{
		{Entities: []parser.Mention{
			{Text: "Type 2 Diabetes", Label: "DISEASE"},
			{Text: "Headache", Label: "DISEASE"},
			{Text: "nausea", Label: "SYMPTOM"},
		}},
		{Entities: []parser.Mention{
			{Text: "headache", Label: "SYMPTOM"},
			{Text: "ab", Label: "DISEASE"},
			{Text: "glucose", Label: "CHEMICAL"},
			{Text: "BRCA1", Label: "GENE"},
		}},
	}
	testTriples = []parser.Triple{
		{Subject: "Glucophage", Predicate: "treats", Object: "Type 2 Diabetes", Frequency: 4},
		{Subject: "ibuprofen", Predicate: "causes", Object: "nausea", Frequency: 2},
		{Subject: "Type 2 Diabetes", Predicate: "has_symptom", Object: "nausea"},
		{Subject: "coumadin", Predicate: "interacts_with", Object: "ibuprofen", Frequency: 1},
		{Subject: "ibuprofen", Predicate: "alleviates", Object: "headache", Frequency: 3},
	}
)

func ingestAll(t *testing.T, in *Ingestor, triples []parser.Triple) {
	t.Helper()
	ctx := context.Background()
	_, err := in.UpsertDrugs(ctx, testDrugs)
	require.NoError(t, err)
	_, err = in.UpsertEntities(ctx, testEntities)
	require.NoError(t, err)
	rep, err := in.UpsertRelationships(ctx, triples)
	require.NoError(t, err)
	require.Zero(t, rep.Skipped, "unexpected skipped triples: %v", rep.Errors)
}

func TestIngestBuildsGraph(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rec := newCountingRecorder()
	in := NewIngestor(s, WithRecorder(rec))
	ingestAll(t, in, testTriples)

	stats, err := in.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Nodes["Drug"])
	assert.Equal(t, 2, stats.Nodes["Disease"])
	assert.Equal(t, 2, stats.Nodes["Symptom"])
	assert.Equal(t, 1, stats.Nodes["Chemical"])
	assert.Equal(t, 1, stats.RelationshipTypes.Get(store.EdgeTreats))
	assert.Equal(t, 1, stats.RelationshipTypes.Get(store.EdgeCauses))
	assert.Equal(t, 1, stats.RelationshipTypes.Get(store.EdgeHasSymptom))
	assert.Equal(t, 1, stats.RelationshipTypes.Get(store.EdgeInteractsWith))

	assert.Equal(t, 3, rec.nodes["Drug"])
	assert.Equal(t, 1, rec.edges["TREATS"])

	d, err := s.Drug(ctx, "D2")
	require.NoError(t, err)
	assert.Equal(t, "ibuprofen", d.Name)
	assert.Equal(t, "ibuprofen", d.Key)
	assert.True(t, d.Approved)
	assert.Equal(t, "Nonsteroidal anti-inflammatory drug", d.Description)
}

func TestUnknownPredicateMatchesEveryLabel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := NewIngestor(s)
	ingestAll(t, in, testTriples)

	edges, err := s.Edges(ctx)
	require.NoError(t, err)

	var related []store.Edge
	for _, e := range edges {
		if e.Type == store.EdgeRelatedTo {
			related = append(related, e)
		}
	}
	// "headache" exists as both a Disease and a Symptom, so the unlabeled
	// edge reaches both.
	require.Len(t, related, 2)
	for _, e := range related {
		assert.Equal(t, "alleviates", e.RelationType)
		assert.Equal(t, 0.5, e.Confidence)
		assert.Equal(t, 3, e.Frequency)
		assert.Equal(t, "headache", e.ObjectKey)
	}
	assert.ElementsMatch(t, []store.Label{store.LabelDisease, store.LabelSymptom},
		[]store.Label{related[0].ObjectLabel, related[1].ObjectLabel})
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := NewIngestor(s)
	ingestAll(t, in, testTriples)

	first, err := s.Edges(ctx)
	require.NoError(t, err)
	firstStats, err := s.Stats(ctx)
	require.NoError(t, err)

	ingestAll(t, in, testTriples)

	second, err := s.Edges(ctx)
	require.NoError(t, err)
	secondStats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, firstStats, secondStats)
}

func TestTripleOrderDoesNotMatter(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t)
	ingestAll(t, NewIngestor(a), testTriples)

	shuffled := append([]parser.Triple(nil), testTriples...)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	b := newTestStore(t)
	ingestAll(t, NewIngestor(b), shuffled)

	ea, err := a.Edges(ctx)
	require.NoError(t, err)
	eb, err := b.Edges(ctx)
	require.NoError(t, err)
	assert.Equal(t, ea, eb)
}

func TestLaterFrequencyWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := NewIngestor(s)
	ingestAll(t, in, testTriples[:1])

	require.NoError(t, in.UpsertRelationship(ctx, parser.Triple{
		Subject: "glucophage", Predicate: "TREATS", Object: "type 2 diabetes", Frequency: 9,
	}))
	edges, err := s.Edges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 9, edges[0].Frequency)
}

func TestMissingEndpointIsSkipped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rec := newCountingRecorder()
	in := NewIngestor(s, WithRecorder(rec))
	ingestAll(t, in, nil)

	rep, err := in.UpsertRelationships(ctx, []parser.Triple{
		{Subject: "glucophage", Predicate: "treats", Object: "lupus"},
		{Subject: "glucophage", Predicate: "treats", Object: "type 2 diabetes"},
		// Labels are bound: a Drug cannot be the object of TREATS.
		{Subject: "glucophage", Predicate: "treats", Object: "ibuprofen"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Read)
	assert.Equal(t, 1, rep.Written)
	assert.Equal(t, 2, rep.Skipped)
	for _, e := range rep.Errors {
		assert.True(t, errors.Is(e, store.ErrMissingEndpoint), "error %v", e)
	}
	assert.Equal(t, 2, rec.skipped["relationship/missing_endpoint"])

	edges, err := s.Edges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 1, edges[0].Frequency, "unspecified frequency defaults to 1")
}

func TestInvalidRecords(t *testing.T) {
	ctx := context.Background()
	in := NewIngestor(newTestStore(t))

	err := in.UpsertDrug(ctx, parser.DrugRecord{ProductName: []string{"Nameless"}})
	assert.ErrorIs(t, err, parser.ErrInvalidRecord)

	err = in.UpsertRelationship(ctx, parser.Triple{Subject: "  ", Predicate: "treats", Object: "x"})
	assert.ErrorIs(t, err, parser.ErrInvalidRecord)
}

func TestUpsertEntitiesAllowedLabels(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := NewIngestor(s)

	rep, err := in.UpsertEntities(ctx, testEntities, store.LabelDisease)
	require.NoError(t, err)
	assert.Equal(t, 7, rep.Read)
	assert.Equal(t, 2, rep.Written)

	diseases, err := s.NodesByLabel(ctx, store.LabelDisease)
	require.NoError(t, err)
	require.Len(t, diseases, 2)
	assert.Equal(t, "headache", diseases[0].Key)
	assert.Equal(t, "disease_headache", diseases[0].ID)
	assert.Equal(t, "type 2 diabetes", diseases[1].Name)

	symptoms, err := s.NodesByLabel(ctx, store.LabelSymptom)
	require.NoError(t, err)
	assert.Empty(t, symptoms)
}

func TestIngestFilesRecordsRejectedRows(t *testing.T) {
	ctx := context.Background()
	rec := newCountingRecorder()
	in := NewIngestor(newTestStore(t), WithRecorder(rec))

	path := filepath.Join(t.TempDir(), "drugs.ndjson")
	writeLines(t, path, `{"id":"D1","product_name":["Glucophage"]}`, `{broken`, `{"product_name":["x"]}`)

	rep, err := in.IngestDrugFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Read)
	assert.Equal(t, 1, rep.Written)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, 2, rec.skipped["drug/invalid_record"])

	_, err = in.IngestTripleFile(ctx, filepath.Join(t.TempDir(), "triples.parquet"))
	assert.Error(t, err)
}

func TestProjectFromStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ingestAll(t, NewIngestor(s), testTriples)

	docs, err := NewProjector(s, 0).Project(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 5, "three drugs and two diseases")

	var names []string
	for _, d := range docs {
		names = append(names, d.Metadata.Name)
	}
	assert.Equal(t, []string{"Coumadin", "Glucophage", "ibuprofen", "headache", "type 2 diabetes"}, names)

	glucophage := docs[1]
	assert.Equal(t, DocTypeDrug, glucophage.Metadata.Type)
	assert.Equal(t, "Drug: Glucophage. Treats: type 2 diabetes.", glucophage.Text)

	diabetes := docs[4]
	assert.Equal(t, DocTypeDisease, diabetes.Metadata.Type)
	assert.Equal(t, "Disease: type 2 diabetes. Treatments: Glucophage. Symptoms: nausea.", diabetes.Text)
}

func TestProjectRowCap(t *testing.T) {
	s := newTestStore(t)
	ingestAll(t, NewIngestor(s), testTriples)

	docs, err := NewProjector(s, 1).Project(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}
