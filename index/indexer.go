package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/brunobiangulo/medgraph/chunker"
)

var (
	// ErrNoChunks is returned when the documents produce no chunks.
	ErrNoChunks = errors.New("index: no chunks to index")

	// ErrEmbed wraps embedding provider failures.
	ErrEmbed = errors.New("index: embedding failed")
)

// Indexer builds an Index from projected documents: chunk, embed, insert.
type Indexer struct {
	Chunker  *chunker.Chunker
	Embedder *Embedder
}

// Build returns a new Index over docs. The caller owns the result and must
// Close it.
func (b *Indexer) Build(ctx context.Context, docs []chunker.Document) (*Index, error) {
	ctx, span := otel.Tracer("medgraph/index").Start(ctx, "index.Build")
	defer span.End()
	start := time.Now()

	chunks := b.Chunker.Chunk(docs)
	span.SetAttributes(attribute.Int("documents", len(docs)), attribute.Int("chunks", len(chunks)))
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := b.Embedder.Embed(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed")
		return nil, fmt.Errorf("%w: %w", ErrEmbed, err)
	}

	ix, err := New(len(vecs[0]))
	if err != nil {
		return nil, err
	}
	if err := ix.Insert(ctx, chunks, vecs); err != nil {
		ix.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert")
		return nil, err
	}

	slog.Info("index: built",
		"documents", len(docs),
		"chunks", len(chunks),
		"dim", ix.Dim(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return ix, nil
}
