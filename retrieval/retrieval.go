// Package retrieval finds the chunks most similar to a question.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/medgraph/index"
)

// DefaultTopK is the number of chunks returned when none is requested.
const DefaultTopK = 5

var (
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("retrieval: empty query")

	// ErrEmbed wraps failures to embed the query.
	ErrEmbed = errors.New("retrieval: embed query")
)

// Searcher is the part of index.Index used for retrieval.
type Searcher interface {
	Query(ctx context.Context, vec []float32, k int) ([]index.Hit, error)
}

// Config holds retrieval configuration.
type Config struct {
	TopK     int
	MinScore float64 // hits below this cosine similarity are dropped; 0 keeps all
}

// SearchTrace records the breakdown of a search.
type SearchTrace struct {
	TopK      int     `json:"top_k"`
	Results   int     `json:"results"`
	Dropped   int     `json:"dropped,omitempty"`
	BestScore float64 `json:"best_score"`
	EmbedMs   int64   `json:"embed_ms"`
	SearchMs  int64   `json:"search_ms"`
}

// Engine embeds questions and queries a vector index.
type Engine struct {
	embedder *index.Embedder
	cfg      Config
}

// New creates a retrieval engine.
func New(embedder *index.Embedder, cfg Config) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Engine{embedder: embedder, cfg: cfg}
}

// TopK returns the configured number of results.
func (e *Engine) TopK() int { return e.cfg.TopK }

// Search returns the top-k hits for query from ix, best first.
func (e *Engine) Search(ctx context.Context, ix Searcher, query string) ([]index.Hit, *SearchTrace, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil, ErrEmptyQuery
	}
	trace := &SearchTrace{TopK: e.cfg.TopK}

	embedStart := time.Now()
	vec, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, trace, fmt.Errorf("%w: %w", ErrEmbed, err)
	}
	trace.EmbedMs = time.Since(embedStart).Milliseconds()

	searchStart := time.Now()
	hits, err := ix.Query(ctx, vec, e.cfg.TopK)
	if err != nil {
		return nil, trace, fmt.Errorf("vector search: %w", err)
	}
	trace.SearchMs = time.Since(searchStart).Milliseconds()

	if e.cfg.MinScore > 0 {
		kept := hits[:0]
		for _, h := range hits {
			if h.Score >= e.cfg.MinScore {
				kept = append(kept, h)
			}
		}
		trace.Dropped = len(hits) - len(kept)
		hits = kept
	}
	trace.Results = len(hits)
	if len(hits) > 0 {
		trace.BestScore = hits[0].Score
	}

	slog.Debug("retrieval: search complete",
		"query_len", len(query), "results", len(hits), "best_score", trace.BestScore,
		"elapsed", time.Since(embedStart).Round(time.Millisecond))
	return hits, trace, nil
}
