//go:build cgo

package medgraph

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/medgraph/graph"
	"github.com/brunobiangulo/medgraph/llm/llmtest"
	"github.com/brunobiangulo/medgraph/metrics"
	"github.com/brunobiangulo/medgraph/parser"
	"github.com/brunobiangulo/medgraph/store"
)

type fixture struct {
	engine  Engine
	store   *store.Store
	chat    *llmtest.Provider
	embed   *llmtest.Provider
	metrics *metrics.Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:   s,
		chat:    llmtest.New("Glucophage (metformin) is used to treat Type 2 Diabetes."),
		embed:   llmtest.New(""),
		metrics: metrics.NewCollector("medgraph_test"),
	}
	e, err := New(context.Background(), DefaultConfig(),
		WithGraph(s),
		WithChatProvider(f.chat),
		WithEmbeddingProvider(f.embed),
		WithMetrics(f.metrics),
	)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	f.engine = e
	return f
}

// seedGlucophage loads the drug, a pre-existing disease node and the
// relation between them.
func seedGlucophage(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	in := f.engine.Ingestor()

	require.NoError(t, in.UpsertDrug(ctx, parser.DrugRecord{
		ID:          "D1",
		ProductName: []string{"Glucophage"},
		GenericName: []string{"metformin"},
	}))
	require.NoError(t, f.store.UpsertNode(ctx, store.Node{
		Label: store.LabelDisease,
		ID:    graph.NodeID(store.LabelDisease, "type 2 diabetes"),
		Name:  "Type 2 Diabetes",
		Key:   "type 2 diabetes",
	}))
	require.NoError(t, in.UpsertRelationship(ctx, parser.Triple{
		Subject: "Glucophage", Predicate: "treats", Object: "Type 2 Diabetes", Frequency: 1,
	}))
}

func TestGlucophageScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedGlucophage(t, f)

	drug, err := f.store.Drug(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "Glucophage", drug.Name)
	assert.True(t, drug.Approved)

	stats, err := f.engine.GraphStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Nodes["Drug"])
	assert.Equal(t, 1, stats.Nodes["Disease"])
	assert.Equal(t, 1, stats.TotalRelationships)
	assert.Equal(t, 1, stats.RelationshipTypes.Get(store.EdgeTreats))

	edges, err := f.store.Edges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 0.7, edges[0].Confidence)
	assert.Equal(t, 1, edges[0].Frequency)
	assert.Equal(t, store.SourceExtracted, edges[0].Source)

	require.NoError(t, f.engine.Initialize(ctx))
	assert.Equal(t, StateReady, f.engine.State())

	ans, err := f.engine.Ask(ctx, "What does Glucophage treat?")
	require.NoError(t, err)
	assert.Contains(t, ans.Answer, "Type 2 Diabetes")
	assert.Equal(t, "What does Glucophage treat?", ans.Question)

	found := false
	for _, d := range ans.SourceDocuments {
		if d.Metadata.Name == "Glucophage" {
			found = true
			assert.Contains(t, d.Content, "Treats: Type 2 Diabetes")
			assert.Equal(t, []string{"Type 2 Diabetes"}, d.Metadata.Treats)
		}
	}
	assert.True(t, found, "no source document for Glucophage")

	calls := f.chat.ChatCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 0.1, calls[0].Temperature)
	assert.Contains(t, calls[0].Messages[1].Content, "Question: What does Glucophage treat?")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Asks.WithLabelValues(metrics.StatusOK)))
}

func TestAskBeforeInitialize(t *testing.T) {
	f := newFixture(t)
	seedGlucophage(t, f)

	_, err := f.engine.Ask(context.Background(), "What does Glucophage treat?")
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.Zero(t, f.chat.Calls(), "chat provider called before initialization")
	assert.Zero(t, f.embed.Calls(), "embedding provider called before initialization")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Asks.WithLabelValues(metrics.StatusNotInitialized)))
}

func TestInitializeEmptyGraph(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Initialize(context.Background())
	require.ErrorIs(t, err, ErrEmptyGraph)
	assert.Equal(t, StateUninitialized, f.engine.State())
	assert.Zero(t, f.embed.Calls())
}

func TestInitializeTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedGlucophage(t, f)

	require.NoError(t, f.engine.Initialize(ctx))
	assert.ErrorIs(t, f.engine.Initialize(ctx), ErrAlreadyInitialized)
}

func TestReinitializePicksUpNewData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedGlucophage(t, f)
	require.NoError(t, f.engine.Initialize(ctx))

	before, err := f.engine.SystemStats(ctx)
	require.NoError(t, err)

	require.NoError(t, f.engine.Ingestor().UpsertDrug(ctx, parser.DrugRecord{ID: "D2", GenericName: []string{"ibuprofen"}}))
	require.NoError(t, f.engine.Reinitialize(ctx))

	after, err := f.engine.SystemStats(ctx)
	require.NoError(t, err)
	assert.Greater(t, after.TotalChunks, before.TotalChunks)
	assert.Equal(t, before.TotalNodes+1, after.TotalNodes)
}

func TestInitializeProviderFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedGlucophage(t, f)
	f.embed.EmbedErr = llmtest.ErrUnavailable

	err := f.engine.Initialize(ctx)
	require.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, llmtest.ErrUnavailable)
	assert.Equal(t, StateUninitialized, f.engine.State())

	f.embed.EmbedErr = nil
	require.NoError(t, f.engine.Initialize(ctx), "a failed initialization can be retried")
}

func TestAskProviderFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedGlucophage(t, f)
	require.NoError(t, f.engine.Initialize(ctx))

	f.chat.ChatErr = llmtest.ErrUnavailable
	_, err := f.engine.Ask(ctx, "What does Glucophage treat?")
	require.ErrorIs(t, err, ErrProvider)
	assert.Equal(t, StateReady, f.engine.State(), "query failures leave the index usable")
}

func TestAskBlankQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedGlucophage(t, f)
	require.NoError(t, f.engine.Initialize(ctx))

	_, err := f.engine.Ask(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidQuestion)
}

func TestAskConcurrently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedGlucophage(t, f)
	require.NoError(t, f.engine.Initialize(ctx))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Ask(ctx, "What does Glucophage treat?")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, f.chat.ChatCalls(), 8)
}

func TestSystemStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedGlucophage(t, f)

	st, err := f.engine.SystemStats(ctx)
	require.NoError(t, err)
	assert.True(t, st.GraphConnected)
	assert.False(t, st.IndexReady)
	assert.Equal(t, 2, st.TotalNodes)
	assert.Equal(t, "uninitialized", st.State)

	require.NoError(t, f.engine.Initialize(ctx))
	st, err = f.engine.SystemStats(ctx)
	require.NoError(t, err)
	assert.True(t, st.IndexReady)
	assert.Equal(t, 2, st.TotalChunks)
	assert.Equal(t, "ready", st.State)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	for _, key := range []string{"graph_connected", "index_ready", "total_nodes", "total_chunks"} {
		assert.Contains(t, string(data), `"`+key+`"`)
	}
}

func TestSystemStatsGraphDown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	st, err := f.engine.SystemStats(context.Background())
	require.NoError(t, err)
	assert.False(t, st.GraphConnected)
}

func TestIngestFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dir := t.TempDir()

	drugs := filepath.Join(dir, "drugs.ndjson")
	writeFile(t, drugs,
		`{"id":"D1","product_name":["Glucophage"],"generic_name":["metformin"]}`,
		`{"id":"D2","generic_name":["ibuprofen"]}`,
		`{"product_name":["NoID"]}`,
		`not json`,
	)
	entities := filepath.Join(dir, "entities.ndjson")
	writeFile(t, entities,
		`{"entities":[{"text":"Type 2 Diabetes","label":"DISEASE"},{"text":"nausea","label":"SYMPTOM"}]}`,
		`{"entities":[{"text":"  TYPE 2   diabetes ","label":"DISEASE"},{"text":"ab","label":"SYMPTOM"}]}`,
	)
	triples := filepath.Join(dir, "triples.csv")
	writeFile(t, triples,
		"subject,predicate,object,frequency",
		"glucophage,treats,type 2 diabetes,3",
		"ibuprofen,causes,nausea,",
		"ibuprofen,treats,unknown disease,1",
	)

	rep, err := f.engine.Ingest(ctx, IngestFiles{
		Drugs:    []string{drugs},
		Entities: []string{entities},
		Triples:  []string{triples},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Drugs.Written)
	assert.Equal(t, 2, rep.Drugs.Skipped)
	assert.Equal(t, 2, rep.Relationships.Written)
	assert.Equal(t, 1, rep.Relationships.Skipped)
	assert.True(t, errors.Is(rep.Relationships.Errors[0], ErrMissingEndpoint))

	require.NotNil(t, rep.Stats)
	assert.Equal(t, 2, rep.Stats.Nodes["Drug"])
	assert.Equal(t, 1, rep.Stats.Nodes["Disease"])
	assert.Equal(t, 1, rep.Stats.Nodes["Symptom"])
	assert.Equal(t, 2, rep.Stats.TotalRelationships)

	// Replaying the same files converges to the same graph.
	_, err = f.engine.Ingest(ctx, IngestFiles{Drugs: []string{drugs}, Entities: []string{entities}, Triples: []string{triples}})
	require.NoError(t, err)
	again, err := f.engine.GraphStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, rep.Stats.Nodes, again.Nodes)
	assert.Equal(t, rep.Stats.TotalRelationships, again.TotalRelationships)
}

func TestClearGraph(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedGlucophage(t, f)

	require.NoError(t, f.engine.ClearGraph(ctx))
	stats, err := f.engine.GraphStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRelationships)
	assert.Zero(t, stats.Nodes["Drug"])
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.engine.Close())
	require.NoError(t, f.engine.Close(), "Close is idempotent")

	assert.ErrorIs(t, f.engine.Initialize(ctx), ErrStoreClosed)
	_, err := f.engine.Ask(ctx, "q")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = f.engine.GraphStats(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

// gatedEmbedder blocks its first Embed call until release is closed.
type gatedEmbedder struct {
	*llmtest.Provider
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.Provider.Embed(ctx, texts)
}

func TestCloseDuringInitialize(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	embed := &gatedEmbedder{
		Provider: llmtest.New(""),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	e, err := New(ctx, DefaultConfig(),
		WithGraph(s),
		WithChatProvider(llmtest.New("ok")),
		WithEmbeddingProvider(embed),
	)
	require.NoError(t, err)
	seedGlucophage(t, &fixture{engine: e, store: s})

	done := make(chan error, 1)
	go func() { done <- e.Initialize(ctx) }()
	<-embed.started
	require.NoError(t, e.Close())
	close(embed.release)

	assert.ErrorIs(t, <-done, ErrStoreClosed)
	assert.Equal(t, StateUninitialized, e.State())
	eng := e.(*engine)
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	assert.Nil(t, eng.index, "index built after Close must be released")
}

func TestNewRequiresCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Graph.DBPath = filepath.Join(t.TempDir(), "graph.db")

	_, err := New(context.Background(), cfg)
	require.ErrorIs(t, err, ErrConfiguration)
	assert.True(t, strings.Contains(err.Error(), "API key"))
}

func TestNewBuildsProvidersFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Graph.DBPath = filepath.Join(t.TempDir(), "graph.db")
	cfg.Chat = LLMConfig{Provider: "ollama", Model: "llama3.1:8b"}
	cfg.Embedding = LLMConfig{Provider: "ollama", Model: "nomic-embed-text"}

	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}
