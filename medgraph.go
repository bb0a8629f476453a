// Package medgraph answers medical questions from a drug, disease and
// symptom knowledge graph. The graph is projected into text documents,
// chunked, embedded into an in-memory vector index, and questions are
// answered by a chat model over the top matching chunks.
package medgraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brunobiangulo/medgraph/chunker"
	"github.com/brunobiangulo/medgraph/graph"
	"github.com/brunobiangulo/medgraph/index"
	"github.com/brunobiangulo/medgraph/llm"
	"github.com/brunobiangulo/medgraph/metrics"
	"github.com/brunobiangulo/medgraph/reasoning"
	"github.com/brunobiangulo/medgraph/retrieval"
	"github.com/brunobiangulo/medgraph/store"
)

// Engine is the main entry point for graph-backed question answering.
type Engine interface {
	// Initialize projects the graph, chunks and embeds the documents and
	// builds the vector index. It fails with ErrAlreadyInitialized once the
	// index exists.
	Initialize(ctx context.Context) error

	// Reinitialize drops the current index and builds a new one.
	Reinitialize(ctx context.Context) error

	// Ask answers a question from the indexed graph.
	Ask(ctx context.Context, question string) (*Answer, error)

	// SystemStats reports graph connectivity and index readiness.
	SystemStats(ctx context.Context) (*SystemStats, error)

	// GraphStats returns node and relationship counts.
	GraphStats(ctx context.Context) (*store.GraphStats, error)

	// Ingest merges input files into the graph. Drugs load first, then
	// entity mentions, then relationships.
	Ingest(ctx context.Context, files IngestFiles) (*IngestReport, error)

	// ClearGraph deletes every node and relationship.
	ClearGraph(ctx context.Context) error

	// Ingestor returns the graph ingestor for record-level ingestion.
	Ingestor() *graph.Ingestor

	// State returns the current lifecycle state.
	State() State

	// Close releases the index, the graph store and owned clients.
	Close() error
}

// State is the engine lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Answer is the result of Ask.
type Answer struct {
	Answer           string                 `json:"answer"`
	SourceDocuments  []SourceDocument       `json:"source_documents"`
	Question         string                 `json:"question"`
	ModelUsed        string                 `json:"model_used,omitempty"`
	PromptTokens     int                    `json:"prompt_tokens,omitempty"`
	CompletionTokens int                    `json:"completion_tokens,omitempty"`
	TotalTokens      int                    `json:"total_tokens,omitempty"`
	RetrievalTrace   *retrieval.SearchTrace `json:"retrieval_trace,omitempty"`
}

// SourceDocument is a retrieved chunk backing an answer.
type SourceDocument struct {
	Content  string           `json:"content"`
	Metadata chunker.Metadata `json:"metadata"`
	Score    float64          `json:"score"`
	Snippet  string           `json:"snippet,omitempty"`
}

// SystemStats reports the engine's health.
type SystemStats struct {
	GraphConnected bool   `json:"graph_connected"`
	IndexReady     bool   `json:"index_ready"`
	TotalNodes     int    `json:"total_nodes"`
	TotalChunks    int    `json:"total_chunks"`
	State          string `json:"state"`
}

// IngestFiles lists the input files of one ingestion run.
type IngestFiles struct {
	Drugs    []string `json:"drugs,omitempty"`
	Entities []string `json:"entities,omitempty"`
	Triples  []string `json:"triples,omitempty"`
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	Drugs         graph.Report      `json:"drugs"`
	Entities      graph.Report      `json:"entities"`
	Relationships graph.Report      `json:"relationships"`
	Stats         *store.GraphStats `json:"stats,omitempty"`
}

// Option configures New.
type Option func(*options)

type options struct {
	graph   store.Graph
	chat    llm.Provider
	embed   llm.Provider
	metrics *metrics.Collector
	cache   index.Cache
}

// WithGraph uses g instead of opening the configured store. The caller
// keeps ownership of g.
func WithGraph(g store.Graph) Option {
	return func(o *options) { o.graph = g }
}

// WithChatProvider uses p for answer generation.
func WithChatProvider(p llm.Provider) Option {
	return func(o *options) { o.chat = p }
}

// WithEmbeddingProvider uses p for chunk and question embeddings.
func WithEmbeddingProvider(p llm.Provider) Option {
	return func(o *options) { o.embed = p }
}

// WithMetrics reports ingestion, index and query metrics to c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithEmbeddingCache caches embeddings in c instead of the configured Redis.
func WithEmbeddingCache(c index.Cache) Option {
	return func(o *options) { o.cache = c }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	graph     store.Graph
	ingestor  *graph.Ingestor
	projector *graph.Projector
	indexer   *index.Indexer
	retriever *retrieval.Engine
	reasoner  *reasoning.Engine
	metrics   *metrics.Collector
	tracer    trace.Tracer
	closers   []io.Closer

	mu     sync.RWMutex
	state  State
	index  *index.Index
	closed bool
}

// New creates an engine. Resources not supplied through options are built
// from cfg; configuration problems surface as ErrConfiguration.
func New(ctx context.Context, cfg Config, opts ...Option) (Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	e := &engine{cfg: cfg, metrics: o.metrics, tracer: otel.Tracer("medgraph")}
	ok := false
	defer func() {
		if !ok {
			e.closeOwned()
		}
	}()

	g := o.graph
	if g == nil {
		if err := cfg.validateGraph(); err != nil {
			return nil, err
		}
		opened, err := OpenGraph(ctx, cfg.Graph)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, opened)
		g = opened
	}
	e.graph = g

	chat := o.chat
	if chat == nil {
		if err := cfg.validateChat(); err != nil {
			return nil, err
		}
		p, err := e.provider("chat", cfg.Chat)
		if err != nil {
			return nil, err
		}
		chat = p
	}

	embed := o.embed
	if embed == nil {
		if err := cfg.validateEmbedding(); err != nil {
			return nil, err
		}
		p, err := e.provider("embedding", cfg.Embedding)
		if err != nil {
			return nil, err
		}
		embed = p
	}

	cache := o.cache
	if cache == nil && cfg.Cache.Enabled {
		rc, err := index.NewRedisCache(ctx, index.RedisOptions{
			URL:    cfg.Cache.URL,
			Prefix: cfg.Cache.Prefix,
			TTL:    cfg.Cache.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: embedding cache: %v", ErrConfiguration, err)
		}
		e.closers = append(e.closers, rc)
		cache = rc
	}

	var recorder graph.Recorder
	if o.metrics != nil {
		recorder = o.metrics
	}
	embedder := &index.Embedder{
		Provider:    embed,
		Model:       cfg.Embedding.Provider + "/" + cfg.Embedding.Model,
		BatchSize:   cfg.EmbedBatchSize,
		Concurrency: cfg.EmbedConcurrency,
		Cache:       cache,
	}
	temperature := cfg.Temperature

	e.ingestor = graph.NewIngestor(g, graph.WithRecorder(recorder))
	e.projector = graph.NewProjector(g, cfg.MaxProjectionRows)
	e.indexer = &index.Indexer{
		Chunker:  chunker.New(chunker.Config{MaxSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}),
		Embedder: embedder,
	}
	e.retriever = retrieval.New(embedder, retrieval.Config{TopK: cfg.TopK, MinScore: cfg.MinScore})
	e.reasoner = reasoning.New(chat, reasoning.Config{
		Model:       cfg.Chat.Model,
		Temperature: &temperature,
		MaxTokens:   cfg.MaxTokens,
	})

	ok = true
	return e, nil
}

func (e *engine) provider(role string, c LLMConfig) (llm.Provider, error) {
	p, err := llm.NewProvider(c.providerConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %s provider: %v", ErrConfiguration, role, err)
	}
	if e.cfg.Breaker.Enabled {
		p = llm.WithBreaker(role, p, e.cfg.Breaker)
	}
	return p, nil
}

// GraphStore is a store.Graph that can be closed.
type GraphStore interface {
	store.Graph
	io.Closer
}

// OpenGraph opens the configured graph backend.
func OpenGraph(ctx context.Context, cfg GraphConfig) (GraphStore, error) {
	switch cfg.Backend {
	case BackendNeo4j:
		g, err := store.OpenNeo4j(ctx, cfg.Neo4j)
		if err != nil {
			return nil, fmt.Errorf("opening graph: %w", err)
		}
		return g, nil
	case "", BackendSQLite:
		s, err := store.New(cfg.ResolvedDBPath())
		if err != nil {
			return nil, fmt.Errorf("opening graph: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown graph backend %q", ErrConfiguration, cfg.Backend)
	}
}

func (e *engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrStoreClosed
	case e.state == StateReady:
		e.mu.Unlock()
		return ErrAlreadyInitialized
	case e.state == StateInitializing:
		e.mu.Unlock()
		return ErrInitializing
	}
	e.state = StateInitializing
	e.mu.Unlock()

	return e.build(ctx)
}

func (e *engine) Reinitialize(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrStoreClosed
	case e.state == StateInitializing:
		e.mu.Unlock()
		return ErrInitializing
	}
	old := e.index
	e.index = nil
	e.state = StateInitializing
	e.mu.Unlock()

	if old != nil {
		old.Close()
		if e.metrics != nil {
			e.metrics.IndexDropped()
		}
		slog.Info("medgraph: dropped index for rebuild", "chunks", old.Len())
	}
	return e.build(ctx)
}

// build runs the projection and index build. The caller has moved the
// state to Initializing.
func (e *engine) build(ctx context.Context) (err error) {
	if e.cfg.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.InitTimeout)
		defer cancel()
	}
	ctx, span := e.tracer.Start(ctx, "medgraph.Initialize")
	defer span.End()
	start := time.Now()

	var ix *index.Index
	defer func() {
		e.mu.Lock()
		switch {
		case e.closed:
			// Close ran while the index was building.
			if ix != nil {
				ix.Close()
			}
			if err == nil {
				err = ErrStoreClosed
			}
			e.state = StateUninitialized
		case err != nil:
			e.state = StateUninitialized
		default:
			e.index = ix
			e.state = StateReady
		}
		e.mu.Unlock()

		chunks := 0
		if ix != nil {
			chunks = ix.Len()
		}
		if e.metrics != nil {
			e.metrics.ObserveInitialize(time.Since(start), chunks, err)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "initialize failed")
			slog.Error("medgraph: initialization failed", "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
			return
		}
		span.SetAttributes(attribute.Int("chunks", chunks))
		slog.Info("medgraph: initialized", "chunks", chunks, "elapsed", time.Since(start).Round(time.Millisecond))
	}()

	docs, err := e.projector.Project(ctx)
	if err != nil {
		return fmt.Errorf("projecting graph: %w", err)
	}
	span.SetAttributes(attribute.Int("documents", len(docs)))
	if len(docs) == 0 {
		return ErrEmptyGraph
	}

	ix, err = e.indexer.Build(ctx, docs)
	switch {
	case errors.Is(err, index.ErrNoChunks):
		return ErrEmptyGraph
	case errors.Is(err, index.ErrEmbed):
		return fmt.Errorf("%w: %w", ErrProvider, err)
	case err != nil:
		return fmt.Errorf("building index: %w", err)
	}
	return nil
}

func (e *engine) Ask(ctx context.Context, question string) (ans *Answer, err error) {
	start := time.Now()
	status := metrics.StatusOK
	defer func() {
		if e.metrics == nil {
			return
		}
		var prompt, completion int
		if ans != nil {
			prompt, completion = ans.PromptTokens, ans.CompletionTokens
		}
		e.metrics.ObserveAsk(time.Since(start), status, prompt, completion)
	}()

	e.mu.RLock()
	ix, state, closed := e.index, e.state, e.closed
	e.mu.RUnlock()
	if closed {
		status = metrics.StatusError
		return nil, ErrStoreClosed
	}
	if state != StateReady || ix == nil {
		status = metrics.StatusNotInitialized
		return nil, ErrNotInitialized
	}

	q := strings.TrimSpace(question)
	if q == "" {
		status = metrics.StatusInvalid
		return nil, ErrInvalidQuestion
	}

	if e.cfg.AskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AskTimeout)
		defer cancel()
	}
	ctx, span := e.tracer.Start(ctx, "medgraph.Ask", trace.WithAttributes(attribute.Int("question_len", len(q))))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ask failed")
		}
	}()

	hits, searchTrace, err := e.retriever.Search(ctx, ix, q)
	switch {
	case errors.Is(err, index.ErrClosed):
		// Reinitialize dropped the index mid-query.
		status = metrics.StatusNotInitialized
		return nil, ErrNotInitialized
	case errors.Is(err, retrieval.ErrEmbed):
		status = metrics.StatusError
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	case err != nil:
		status = metrics.StatusError
		return nil, fmt.Errorf("retrieving context: %w", err)
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))

	reasoned, err := e.reasoner.Reason(ctx, q, hits)
	if err != nil {
		status = metrics.StatusError
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	answerWords := significantWords(reasoned.Text)
	docs := make([]SourceDocument, len(reasoned.Sources))
	for i, s := range reasoned.Sources {
		docs[i] = SourceDocument{
			Content:  s.Content,
			Metadata: s.Metadata,
			Score:    s.Score,
			Snippet:  extractSnippet(s.Content, answerWords),
		}
	}

	slog.Info("medgraph: answered",
		"question_len", len(q), "sources", len(docs), "tokens", reasoned.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return &Answer{
		Answer:           reasoned.Text,
		SourceDocuments:  docs,
		Question:         question,
		ModelUsed:        reasoned.ModelUsed,
		PromptTokens:     reasoned.PromptTokens,
		CompletionTokens: reasoned.CompletionTokens,
		TotalTokens:      reasoned.TotalTokens,
		RetrievalTrace:   searchTrace,
	}, nil
}

func (e *engine) SystemStats(ctx context.Context) (*SystemStats, error) {
	e.mu.RLock()
	ix, state, closed := e.index, e.state, e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrStoreClosed
	}

	st := &SystemStats{State: state.String(), IndexReady: state == StateReady && ix != nil}
	if ix != nil {
		st.TotalChunks = ix.Len()
	}
	n, err := e.graph.CountNodes(ctx)
	if err != nil {
		slog.Warn("medgraph: graph unreachable", "error", err)
		return st, nil
	}
	st.GraphConnected = true
	st.TotalNodes = n
	return st, nil
}

func (e *engine) GraphStats(ctx context.Context) (*store.GraphStats, error) {
	if e.isClosed() {
		return nil, ErrStoreClosed
	}
	return e.graph.Stats(ctx)
}

func (e *engine) Ingest(ctx context.Context, files IngestFiles) (*IngestReport, error) {
	if e.isClosed() {
		return nil, ErrStoreClosed
	}
	rep := &IngestReport{}
	steps := []struct {
		kind   string
		paths  []string
		ingest func(context.Context, string) (*graph.Report, error)
		into   *graph.Report
	}{
		{"drugs", files.Drugs, e.ingestor.IngestDrugFile, &rep.Drugs},
		{"entities", files.Entities, func(ctx context.Context, p string) (*graph.Report, error) {
			return e.ingestor.IngestEntityFile(ctx, p)
		}, &rep.Entities},
		{"relationships", files.Triples, e.ingestor.IngestTripleFile, &rep.Relationships},
	}
	for _, step := range steps {
		for _, path := range step.paths {
			r, err := step.ingest(ctx, path)
			if r != nil {
				step.into.Read += r.Read
				step.into.Written += r.Written
				step.into.Skipped += r.Skipped
				step.into.Errors = append(step.into.Errors, r.Errors...)
			}
			if err != nil {
				return rep, fmt.Errorf("ingesting %s from %s: %w", step.kind, path, err)
			}
			slog.Info("medgraph: ingested file", "kind", step.kind, "path", path,
				"read", r.Read, "written", r.Written, "skipped", r.Skipped)
		}
	}

	stats, err := e.graph.Stats(ctx)
	if err != nil {
		return rep, fmt.Errorf("graph stats: %w", err)
	}
	rep.Stats = stats
	slog.Info("medgraph: graph stats",
		"nodes", stats.Nodes, "relationships", stats.TotalRelationships)

	if e.State() == StateReady {
		slog.Warn("medgraph: index is stale after ingestion; call Reinitialize to rebuild it")
	}
	return rep, nil
}

func (e *engine) ClearGraph(ctx context.Context) error {
	if e.isClosed() {
		return ErrStoreClosed
	}
	return e.graph.Clear(ctx)
}

func (e *engine) Ingestor() *graph.Ingestor { return e.ingestor }

func (e *engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	ix := e.index
	e.index = nil
	e.state = StateUninitialized
	e.mu.Unlock()

	var errs []error
	if ix != nil {
		errs = append(errs, ix.Close())
	}
	errs = append(errs, e.closeOwned())
	return errors.Join(errs...)
}

func (e *engine) closeOwned() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i].Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}
