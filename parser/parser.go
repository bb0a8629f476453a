package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrInvalidRecord marks an input row that could not be decoded or failed
// validation. Such rows are skipped; the batch continues.
var ErrInvalidRecord = errors.New("parser: invalid record")

// DrugRecord is one line of the drug label feed.
type DrugRecord struct {
	ID               string   `json:"id" validate:"required"`
	ProductName      []string `json:"product_name"`
	GenericName      []string `json:"generic_name"`
	ActiveIngredient []string `json:"active_ingredient"`
	Description      string   `json:"description,omitempty"`
}

// Mention is a single NER span.
type Mention struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// EntityRecord is the NER output for one source text.
type EntityRecord struct {
	Entities []Mention `json:"entities"`
}

// Triple is a (subject, predicate, object) relation with an observed
// frequency. Frequency 0 means unspecified.
type Triple struct {
	Subject   string `json:"subject" validate:"required"`
	Predicate string `json:"predicate" validate:"required"`
	Object    string `json:"object" validate:"required"`
	Frequency int    `json:"frequency,omitempty" validate:"gte=0"`
}

// RowError records why a row was rejected.
type RowError struct {
	Source string
	Line   int
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Source, e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

func rowError(source string, line int, err error) *RowError {
	return &RowError{Source: source, Line: line, Err: fmt.Errorf("%w: %v", ErrInvalidRecord, err)}
}

// Result holds the decoded records of one file plus the rows that were
// rejected.
type Result[T any] struct {
	Records  []T
	Rejected []*RowError
}

// TripleParser reads relation triples from one file format.
type TripleParser interface {
	ParseTriples(ctx context.Context, path string) (*Result[Triple], error)
	SupportedFormats() []string
}

// Registry dispatches triple files to a parser by extension.
type Registry struct {
	parsers map[string]TripleParser
}

// NewRegistry returns a registry with the CSV and XLSX parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]TripleParser)}
	for _, p := range []TripleParser{&CSVParser{}, &XLSXParser{}} {
		for _, f := range p.SupportedFormats() {
			r.Register(f, p)
		}
	}
	return r
}

// Get returns the parser for a format such as "csv".
func (r *Registry) Get(format string) (TripleParser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("no triple parser for format: %s", format)
	}
	return p, nil
}

// Register adds or replaces the parser for a format.
func (r *Registry) Register(format string, p TripleParser) {
	r.parsers[strings.ToLower(format)] = p
}

// ParseTriples picks a parser from the file extension.
func (r *Registry) ParseTriples(ctx context.Context, path string) (*Result[Triple], error) {
	p, err := r.Get(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, err
	}
	return p.ParseTriples(ctx, path)
}
