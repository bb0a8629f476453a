package index

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/medgraph/llm"
)

const (
	DefaultBatchSize   = 32
	DefaultConcurrency = 4
)

// Embedder turns texts into vectors through an llm.Provider, in batches
// that run concurrently. Vectors are returned in input order regardless of
// the order batches complete in.
type Embedder struct {
	Provider    llm.Provider
	Model       string // cache namespace
	BatchSize   int
	Concurrency int
	Cache       Cache // optional
}

// Embed returns one vector per text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	missing := make([]int, 0, len(texts))
	if e.Cache != nil {
		cached, err := e.Cache.GetMany(ctx, e.Model, texts)
		if err != nil {
			slog.Warn("index: embedding cache unavailable", "error", err)
			cached = nil
		}
		for i := range texts {
			if cached != nil && cached[i] != nil {
				out[i] = cached[i]
				continue
			}
			missing = append(missing, i)
		}
	} else {
		for i := range texts {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch := e.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	conc := e.Concurrency
	if conc <= 0 {
		conc = DefaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for lo := 0; lo < len(missing); lo += batch {
		idx := missing[lo:min(lo+batch, len(missing))]
		g.Go(func() error {
			in := make([]string, len(idx))
			for j, i := range idx {
				in[j] = texts[i]
			}
			vecs, err := e.Provider.Embed(gctx, in)
			if err != nil {
				return err
			}
			if len(vecs) != len(in) {
				return fmt.Errorf("index: embedding count mismatch (got %d want %d)", len(vecs), len(in))
			}
			for j, i := range idx {
				out[i] = vecs[j]
			}
			if e.Cache != nil {
				if err := e.Cache.SetMany(gctx, e.Model, in, vecs); err != nil {
					slog.Warn("index: caching embeddings failed", "error", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
