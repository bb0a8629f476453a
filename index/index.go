// Package index holds the in-memory vector index built from the graph
// projection, and the embedding pipeline that feeds it.
package index

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/medgraph/chunker"
)

func init() {
	sqlite_vec.Auto()
}

// maxK is the sqlite-vec limit on k for a KNN query.
const maxK = 4096

var (
	ErrDimension = errors.New("index: embedding dimension mismatch")
	ErrClosed    = errors.New("index: closed")
)

// Hit is a retrieved chunk with its cosine similarity to the query.
type Hit struct {
	Chunk chunker.Chunk
	Score float64
}

// Index is an in-memory sqlite-vec table of chunk embeddings. Vectors are
// L2-normalized on insert, so nearest by L2 distance is nearest by cosine.
type Index struct {
	mu     sync.RWMutex
	db     *sql.DB
	dim    int
	count  int
	closed bool
}

// New creates an empty index for vectors of the given dimension.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrDimension, dim)
	}
	dsn := fmt.Sprintf("file:medgraph-index-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	// The database lives only as long as a connection holds it.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.Exec(indexSchema(dim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: create schema: %w", err)
	}
	return &Index{db: db, dim: dim}, nil
}

func indexSchema(dim int) string {
	return fmt.Sprintf(`
CREATE TABLE chunks (
    id INTEGER PRIMARY KEY,
    doc_index INTEGER NOT NULL,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    start_pos INTEGER NOT NULL,
    end_pos INTEGER NOT NULL,
    overlap INTEGER NOT NULL,
    metadata JSON
);
CREATE VIRTUAL TABLE vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    embedding float[%d]
);`, dim)
}

// Dim returns the vector dimension.
func (ix *Index) Dim() int { return ix.dim }

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.count
}

// Insert adds chunks with their embeddings in one transaction.
func (ix *Index) Insert(ctx context.Context, chunks []chunker.Chunk, vecs [][]float32) error {
	if len(chunks) != len(vecs) {
		return fmt.Errorf("index: %d chunks for %d vectors", len(chunks), len(vecs))
	}
	for i, v := range vecs {
		if len(v) != ix.dim {
			return fmt.Errorf("%w: chunk %d has %d, index has %d", ErrDimension, i, len(v), ix.dim)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return ErrClosed
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (doc_index, chunk_index, content, start_pos, end_pos, overlap, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer chunkStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, "INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("index: marshal metadata: %w", err)
		}
		res, err := chunkStmt.ExecContext(ctx, c.DocIndex, c.Index, c.Content, c.Start, c.End, c.Overlap, string(meta))
		if err != nil {
			return fmt.Errorf("index: insert chunk: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := vecStmt.ExecContext(ctx, id, serializeFloat32(normalize(vecs[i]))); err != nil {
			return fmt.Errorf("index: insert embedding: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	ix.count += len(chunks)
	return nil
}

// Query returns up to k chunks nearest to vec, best first.
func (ix *Index) Query(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if len(vec) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimension, len(vec), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	k = min(k, maxK)

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, ErrClosed
	}
	if ix.count == 0 {
		return nil, nil
	}

	// vec0 breaks distance ties by rowid inside the KNN scan, so the scan
	// must not cut at k. Rank the whole candidate set here instead.
	rows, err := ix.db.QueryContext(ctx, `
		SELECT v.distance, c.doc_index, c.chunk_index, c.content, c.start_pos, c.end_pos, c.overlap, c.metadata
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		WHERE v.embedding MATCH ? AND k = ?
	`, serializeFloat32(normalize(vec)), min(ix.count, maxK))
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	defer rows.Close()

	type ranked struct {
		hit      Hit
		distance float64
	}
	var all []ranked
	for rows.Next() {
		var (
			h        Hit
			distance float64
			meta     sql.NullString
		)
		if err := rows.Scan(&distance, &h.Chunk.DocIndex, &h.Chunk.Index, &h.Chunk.Content,
			&h.Chunk.Start, &h.Chunk.End, &h.Chunk.Overlap, &meta); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &h.Chunk.Metadata); err != nil {
				return nil, fmt.Errorf("index: decode metadata: %w", err)
			}
		}
		// Unit vectors: |a-b|^2 = 2 - 2cos.
		h.Score = 1 - distance*distance/2
		all = append(all, ranked{hit: h, distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(all, func(a, b ranked) int {
		if c := cmp.Compare(a.distance, b.distance); c != 0 {
			return c
		}
		if c := strings.Compare(a.hit.Chunk.Content, b.hit.Chunk.Content); c != 0 {
			return c
		}
		return strings.Compare(a.hit.Chunk.Metadata.Name, b.hit.Chunk.Metadata.Name)
	})
	hits := make([]Hit, 0, min(k, len(all)))
	for _, r := range all[:min(k, len(all))] {
		hits = append(hits, r.hit)
	}
	return hits, nil
}

// Close releases the in-memory database.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true
	return ix.db.Close()
}

// normalize returns v scaled to unit length. A zero vector is returned as is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
