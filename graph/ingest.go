package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/medgraph/parser"
	"github.com/brunobiangulo/medgraph/store"
)

// Recorder receives ingestion counters. metrics.Collector satisfies it.
type Recorder interface {
	NodeUpserted(label string)
	EdgeUpserted(edgeType string)
	RowSkipped(kind, reason string)
}

type nopRecorder struct{}

func (nopRecorder) NodeUpserted(string)       {}
func (nopRecorder) EdgeUpserted(string)       {}
func (nopRecorder) RowSkipped(string, string) {}

// Report summarizes one ingestion batch.
type Report struct {
	Read    int     `json:"read"`
	Written int     `json:"written"`
	Skipped int     `json:"skipped"`
	Errors  []error `json:"-"`
}

func (r *Report) skip(err error) {
	r.Skipped++
	r.Errors = append(r.Errors, err)
}

// Ingestor merges drug records, NER mentions and relation triples into a
// graph store. Every write is an upsert so batches can be replayed.
type Ingestor struct {
	store    store.Graph
	recorder Recorder
	triples  *parser.Registry
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithRecorder reports counters to r.
func WithRecorder(r Recorder) IngestorOption {
	return func(in *Ingestor) {
		if r != nil {
			in.recorder = r
		}
	}
}

// NewIngestor returns an Ingestor writing to s.
func NewIngestor(s store.Graph, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{store: s, recorder: nopRecorder{}, triples: parser.NewRegistry()}
	for _, o := range opts {
		o(in)
	}
	return in
}

// DrugName picks the display name: first brand name, then first generic
// name, then the id.
func DrugName(rec parser.DrugRecord) string {
	for _, list := range [][]string{rec.ProductName, rec.GenericName} {
		for _, n := range list {
			if n = strings.TrimSpace(n); n != "" {
				return n
			}
		}
	}
	return strings.TrimSpace(rec.ID)
}

// UpsertDrug merges one drug. Records without an id are rejected with
// parser.ErrInvalidRecord.
func (in *Ingestor) UpsertDrug(ctx context.Context, rec parser.DrugRecord) error {
	rec.ID = strings.TrimSpace(rec.ID)
	if err := parser.Validate(rec); err != nil {
		return fmt.Errorf("%w: %v", parser.ErrInvalidRecord, err)
	}
	name := DrugName(rec)
	d := store.Drug{
		ID:                rec.ID,
		Name:              name,
		Key:               Canonicalize(name),
		BrandNames:        rec.ProductName,
		GenericNames:      rec.GenericName,
		ActiveIngredients: rec.ActiveIngredient,
		Approved:          true,
		Description:       strings.TrimSpace(rec.Description),
	}
	if err := in.store.UpsertDrug(ctx, d); err != nil {
		return err
	}
	in.recorder.NodeUpserted(string(store.LabelDrug))
	return nil
}

// UpsertDrugs merges a batch of drugs. Row failures are logged and counted;
// only context cancellation stops the batch.
func (in *Ingestor) UpsertDrugs(ctx context.Context, recs []parser.DrugRecord) (*Report, error) {
	rep := &Report{Read: len(recs)}
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := in.UpsertDrug(ctx, rec); err != nil {
			slog.Warn("ingest: skipping drug", "row", i, "id", rec.ID, "error", err)
			in.recorder.RowSkipped("drug", reason(err))
			rep.skip(err)
			continue
		}
		rep.Written++
	}
	return rep, nil
}

// UpsertEntities collects every accepted mention of the allowed labels
// across recs and upserts one node per unique (label, key). With no
// labels given, DefaultEntityLabels is used.
func (in *Ingestor) UpsertEntities(ctx context.Context, recs []parser.EntityRecord, allowed ...store.Label) (*Report, error) {
	if len(allowed) == 0 {
		allowed = DefaultEntityLabels
	}
	permitted := make(map[store.Label]bool, len(allowed))
	for _, l := range allowed {
		permitted[l] = true
	}

	rep := &Report{}
	set := NewMentionSet()
	filtered := 0
	for _, rec := range recs {
		for _, m := range rec.Entities {
			rep.Read++
			label, ok := LabelForMention(m.Label)
			if !ok || !permitted[label] {
				continue
			}
			if !set.Add(label, m.Text) {
				filtered++
			}
		}
	}
	if filtered > 0 {
		slog.Debug("ingest: dropped short mentions", "count", filtered)
	}

	for _, label := range allowed {
		for _, key := range set.Keys(label) {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			n := store.Node{Label: label, ID: NodeID(label, key), Name: key, Key: key}
			if err := in.store.UpsertNode(ctx, n); err != nil {
				slog.Warn("ingest: skipping entity", "label", label, "key", key, "error", err)
				in.recorder.RowSkipped("entity", reason(err))
				rep.skip(err)
				continue
			}
			in.recorder.NodeUpserted(string(label))
			rep.Written++
		}
	}
	return rep, nil
}

// UpsertRelationship resolves the predicate through the registry and
// merges the edge. A missing endpoint yields store.ErrMissingEndpoint.
func (in *Ingestor) UpsertRelationship(ctx context.Context, t parser.Triple) error {
	if err := parser.Validate(t); err != nil {
		return fmt.Errorf("%w: %v", parser.ErrInvalidRecord, err)
	}
	subject, object := Canonicalize(t.Subject), Canonicalize(t.Object)
	if subject == "" || object == "" {
		return fmt.Errorf("%w: blank endpoint", parser.ErrInvalidRecord)
	}

	rel, known := LookupRelation(t.Predicate)
	e := store.Edge{
		Type:         rel.Type,
		SubjectLabel: rel.Subject,
		SubjectKey:   subject,
		ObjectLabel:  rel.Object,
		ObjectKey:    object,
		Confidence:   rel.Confidence,
		Frequency:    t.Frequency,
		Source:       store.SourceExtracted,
	}
	if !known {
		e.RelationType = strings.TrimSpace(t.Predicate)
	}
	if e.Frequency < 1 {
		e.Frequency = 1
	}
	if err := in.store.UpsertEdge(ctx, e); err != nil {
		return err
	}
	in.recorder.EdgeUpserted(string(e.Type))
	return nil
}

// UpsertRelationships merges a batch of triples, skipping rows whose
// endpoints do not exist.
func (in *Ingestor) UpsertRelationships(ctx context.Context, triples []parser.Triple) (*Report, error) {
	rep := &Report{Read: len(triples)}
	for i, t := range triples {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := in.UpsertRelationship(ctx, t); err != nil {
			slog.Warn("ingest: skipping relationship", "row", i,
				"subject", t.Subject, "predicate", t.Predicate, "object", t.Object, "error", err)
			in.recorder.RowSkipped("relationship", reason(err))
			rep.skip(err)
			continue
		}
		rep.Written++
	}
	return rep, nil
}

// IngestDrugFile parses and merges a drug NDJSON file.
func (in *Ingestor) IngestDrugFile(ctx context.Context, path string) (*Report, error) {
	res, err := parser.ParseDrugs(ctx, path)
	if err != nil {
		return nil, err
	}
	rep, err := in.UpsertDrugs(ctx, res.Records)
	in.mergeRejected(rep, "drug", res.Rejected)
	return rep, err
}

// IngestEntityFile parses and merges an NER NDJSON file.
func (in *Ingestor) IngestEntityFile(ctx context.Context, path string, allowed ...store.Label) (*Report, error) {
	res, err := parser.ParseEntities(ctx, path)
	if err != nil {
		return nil, err
	}
	rep, err := in.UpsertEntities(ctx, res.Records, allowed...)
	in.mergeRejected(rep, "entity", res.Rejected)
	return rep, err
}

// IngestTripleFile parses a CSV or XLSX triple file and merges it.
func (in *Ingestor) IngestTripleFile(ctx context.Context, path string) (*Report, error) {
	res, err := in.triples.ParseTriples(ctx, path)
	if err != nil {
		return nil, err
	}
	rep, err := in.UpsertRelationships(ctx, res.Records)
	in.mergeRejected(rep, "relationship", res.Rejected)
	return rep, err
}

// Stats returns the store's graph statistics.
func (in *Ingestor) Stats(ctx context.Context) (*store.GraphStats, error) {
	return in.store.Stats(ctx)
}

func (in *Ingestor) mergeRejected(rep *Report, kind string, rejected []*parser.RowError) {
	if rep == nil {
		return
	}
	for _, r := range rejected {
		slog.Warn("ingest: rejected row", "kind", kind, "source", r.Source, "line", r.Line, "error", r.Err)
		in.recorder.RowSkipped(kind, "invalid_record")
		rep.Read++
		rep.skip(r)
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, store.ErrMissingEndpoint):
		return "missing_endpoint"
	case errors.Is(err, parser.ErrInvalidRecord):
		return "invalid_record"
	default:
		return "store_error"
	}
}
