package chunker

import (
	"strings"
	"unicode"
)

// Config controls the chunking behaviour. Sizes are in characters (runes).
type Config struct {
	MaxSize int // Maximum characters per chunk.
	Overlap int // Maximum characters shared with the previous chunk.
}

// Document is a text to be chunked along with the metadata every chunk
// inherits.
type Document struct {
	Text     string
	Metadata Metadata
}

// Metadata describes the graph entity a document was projected from.
type Metadata struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Treats      []string `json:"treats,omitempty"`
	SideEffects []string `json:"side_effects,omitempty"`
	Treatments  []string `json:"treatments,omitempty"`
	Symptoms    []string `json:"symptoms,omitempty"`
}

// Chunk is a contiguous slice of one document.
type Chunk struct {
	Index    int // Position across all chunked documents.
	DocIndex int // Index of the source document.
	Content  string
	Start    int // Rune offset of Content in the document.
	End      int
	Overlap  int // Leading runes repeated from the previous chunk.
	Metadata Metadata
}

// Span locates a chunk inside its document by rune offsets.
type Span struct {
	Start, End, Overlap int
}

// Chunker splits documents into bounded, overlapping chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with defaults of 500 and 50; a negative
// overlap disables overlap.
func New(cfg Config) *Chunker {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 500
	}
	switch {
	case cfg.Overlap == 0:
		cfg.Overlap = 50
	case cfg.Overlap < 0:
		cfg.Overlap = 0
	}
	// The overlap must leave room for forward progress.
	if cfg.Overlap > cfg.MaxSize/2 {
		cfg.Overlap = cfg.MaxSize / 2
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config { return c.cfg }

// Chunk splits every document and tags each chunk with its document's
// metadata.
func (c *Chunker) Chunk(docs []Document) []Chunk {
	var chunks []Chunk
	for di, doc := range docs {
		runes := []rune(doc.Text)
		for _, sp := range c.spans(runes) {
			chunks = append(chunks, Chunk{
				Index:    len(chunks),
				DocIndex: di,
				Content:  string(runes[sp.Start:sp.End]),
				Start:    sp.Start,
				End:      sp.End,
				Overlap:  sp.Overlap,
				Metadata: doc.Metadata,
			})
		}
	}
	return chunks
}

// Split returns the chunk texts for a single string.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	spans := c.spans(runes)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = string(runes[sp.Start:sp.End])
	}
	return out
}

// Spans returns the chunk boundaries for text.
func (c *Chunker) Spans(text string) []Span {
	return c.spans([]rune(text))
}

// separatorLevels are tried in order when looking for a cut; within a
// level the latest match wins.
var separatorLevels = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{" ", "\t"},
}

func (c *Chunker) spans(runes []rune) []Span {
	n := len(runes)
	if n == 0 {
		return nil
	}

	var out []Span
	start, overlap := 0, 0
	for {
		if n-start <= c.cfg.MaxSize {
			return append(out, Span{Start: start, End: n, Overlap: overlap})
		}
		limit := start + c.cfg.MaxSize
		end := cutPoint(runes, start+c.cfg.Overlap+1, limit)
		out = append(out, Span{Start: start, End: end, Overlap: overlap})

		next := wordStart(runes, end-c.cfg.Overlap, end)
		overlap = end - next
		start = next
	}
}

// cutPoint returns the end offset of the best boundary in (lo, limit],
// or limit when the window holds no boundary.
func cutPoint(runes []rune, lo, limit int) int {
	for _, level := range separatorLevels {
		best := -1
		for _, sep := range level {
			if p := lastBoundary(runes, []rune(sep), lo, limit); p > best {
				best = p
			}
		}
		if best > 0 {
			return best
		}
	}
	return limit
}

// lastBoundary finds the last occurrence of sep ending in (lo, limit] and
// returns the offset just past it, or -1.
func lastBoundary(runes, sep []rune, lo, limit int) int {
	for i := limit - len(sep); i+len(sep) > lo && i >= 0; i-- {
		if runesEqual(runes[i:i+len(sep)], sep) {
			return i + len(sep)
		}
	}
	return -1
}

// wordStart returns the first offset in [from, end) that begins a word.
// If the window holds none, end is returned and the next chunk carries no
// overlap.
func wordStart(runes []rune, from, end int) int {
	for p := from; p < end; p++ {
		if p > 0 && unicode.IsSpace(runes[p-1]) && !unicode.IsSpace(runes[p]) {
			return p
		}
	}
	return end
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Join reassembles the chunks of one document by dropping each chunk's
// overlap. For chunks produced by Chunk it returns the document text.
func Join(chunks []Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		b.WriteString(string([]rune(ch.Content)[ch.Overlap:]))
	}
	return b.String()
}
