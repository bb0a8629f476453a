package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Label is a node label in the medical graph.
type Label string

const (
	LabelDrug     Label = "Drug"
	LabelDisease  Label = "Disease"
	LabelSymptom  Label = "Symptom"
	LabelChemical Label = "Chemical"
)

// Labels lists every node label in reporting order.
var Labels = []Label{LabelDrug, LabelDisease, LabelSymptom, LabelChemical}

// EdgeType is a relationship type.
type EdgeType string

const (
	EdgeTreats        EdgeType = "TREATS"
	EdgeCauses        EdgeType = "CAUSES"
	EdgeHasSymptom    EdgeType = "HAS_SYMPTOM"
	EdgeInteractsWith EdgeType = "INTERACTS_WITH"
	EdgeRelatedTo     EdgeType = "RELATED_TO"
)

// SourceExtracted marks edges that came from the extraction pipeline.
const SourceExtracted = "extracted"

var (
	// ErrMissingEndpoint is returned when an edge endpoint does not exist.
	ErrMissingEndpoint = errors.New("store: relationship endpoint not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Drug is a drug node keyed by its source identifier.
type Drug struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Key               string   `json:"key"`
	BrandNames        []string `json:"brand_names,omitempty"`
	GenericNames      []string `json:"generic_names,omitempty"`
	ActiveIngredients []string `json:"active_ingredients,omitempty"`
	Approved          bool     `json:"approved"`
	Description       string   `json:"description,omitempty"`
}

// Node is a Disease, Symptom or Chemical node keyed by its canonical name.
type Node struct {
	Label       Label  `json:"label"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
}

// Edge is a relationship between two nodes. Endpoints are resolved by
// canonical key; an empty label matches nodes of any label.
type Edge struct {
	Type         EdgeType `json:"type"`
	RelationType string   `json:"relation_type,omitempty"`
	SubjectLabel Label    `json:"subject_label,omitempty"`
	SubjectKey   string   `json:"subject_key"`
	ObjectLabel  Label    `json:"object_label,omitempty"`
	ObjectKey    string   `json:"object_key"`
	Confidence   float64  `json:"confidence"`
	Frequency    int      `json:"frequency"`
	Source       string   `json:"source"`
}

// DrugNeighborhood is a drug together with the diseases it treats and the
// symptoms it causes.
type DrugNeighborhood struct {
	Name        string
	Description string
	Treats      []string
	SideEffects []string
}

// DiseaseNeighborhood is a disease together with the drugs that treat it
// and its symptoms.
type DiseaseNeighborhood struct {
	Name        string
	Description string
	Treatments  []string
	Symptoms    []string
}

// Graph is the persistence contract for the medical knowledge graph.
// Every write is an upsert keyed on a deterministic identity.
type Graph interface {
	UpsertDrug(ctx context.Context, d Drug) error
	UpsertNode(ctx context.Context, n Node) error
	// UpsertEdge returns ErrMissingEndpoint when no node pair matches.
	UpsertEdge(ctx context.Context, e Edge) error
	Stats(ctx context.Context) (*GraphStats, error)
	CountNodes(ctx context.Context) (int, error)
	DrugNeighborhoods(ctx context.Context, limit int) ([]DrugNeighborhood, error)
	DiseaseNeighborhoods(ctx context.Context, limit int) ([]DiseaseNeighborhood, error)
	Clear(ctx context.Context) error
	Close() error
}

// Store is the SQLite-backed Graph.
type Store struct {
	db *sql.DB
}

var _ Graph = (*Store)(nil)

// New opens (or creates) a SQLite graph database at dbPath and applies the
// schema and pending migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertDrug inserts or updates a drug keyed on its source id.
func (s *Store) UpsertDrug(ctx context.Context, d Drug) error {
	brands, _ := json.Marshal(nonNil(d.BrandNames))
	generics, _ := json.Marshal(nonNil(d.GenericNames))
	ingredients, _ := json.Marshal(nonNil(d.ActiveIngredients))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (label, node_id, name, key, description, brand_names, generic_names, active_ingredients, approved)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
		ON CONFLICT(label, node_id) DO UPDATE SET
			name = excluded.name,
			key = excluded.key,
			description = COALESCE(excluded.description, nodes.description),
			brand_names = excluded.brand_names,
			generic_names = excluded.generic_names,
			active_ingredients = excluded.active_ingredients,
			approved = excluded.approved,
			updated_at = CURRENT_TIMESTAMP
	`, string(LabelDrug), d.ID, d.Name, d.Key, d.Description,
		string(brands), string(generics), string(ingredients), d.Approved)
	if err != nil {
		return fmt.Errorf("upserting drug %q: %w", d.ID, err)
	}
	return nil
}

// UpsertNode inserts a Disease, Symptom or Chemical node. The display name
// is fixed at creation; an existing description survives an update that
// carries none.
func (s *Store) UpsertNode(ctx context.Context, n Node) error {
	if n.Label == LabelDrug {
		return fmt.Errorf("upserting node %q: drugs must use UpsertDrug", n.ID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (label, node_id, name, key, description)
		VALUES (?, ?, ?, ?, NULLIF(?, ''))
		ON CONFLICT(label, node_id) DO UPDATE SET
			description = COALESCE(excluded.description, nodes.description),
			updated_at = CURRENT_TIMESTAMP
	`, string(n.Label), n.ID, n.Name, n.Key, n.Description)
	if err != nil {
		return fmt.Errorf("upserting %s %q: %w", n.Label, n.ID, err)
	}
	return nil
}

// UpsertEdge merges an edge between every node pair matching the subject
// and object keys. Confidence, frequency and source are overwritten.
func (s *Store) UpsertEdge(ctx context.Context, e Edge) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (source_node, target_node, edge_type, relation_type, confidence, frequency, source)
		SELECT src.id, dst.id, ?, ?, ?, ?, ?
		FROM nodes src, nodes dst
		WHERE src.key = ? AND (? = '' OR src.label = ?)
		  AND dst.key = ? AND (? = '' OR dst.label = ?)
		ON CONFLICT(source_node, target_node, edge_type, relation_type) DO UPDATE SET
			confidence = excluded.confidence,
			frequency = excluded.frequency,
			source = excluded.source,
			updated_at = CURRENT_TIMESTAMP
	`, string(e.Type), e.RelationType, e.Confidence, e.Frequency, e.Source,
		e.SubjectKey, string(e.SubjectLabel), string(e.SubjectLabel),
		e.ObjectKey, string(e.ObjectLabel), string(e.ObjectLabel))
	if err != nil {
		return fmt.Errorf("upserting %s edge: %w", e.Type, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s(%s) -[%s]-> %s(%s)", ErrMissingEndpoint,
			labelOrAny(e.SubjectLabel), e.SubjectKey, e.Type, labelOrAny(e.ObjectLabel), e.ObjectKey)
	}
	return nil
}

// Stats returns node counts per label and relationship counts per type.
func (s *Store) Stats(ctx context.Context) (*GraphStats, error) {
	stats := newGraphStats()

	rows, err := s.db.QueryContext(ctx, "SELECT label, COUNT(*) FROM nodes GROUP BY label")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.Nodes[label] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT edge_type, COUNT(*) FROM edges GROUP BY edge_type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, err
		}
		stats.TotalRelationships += tc.Count
		stats.RelationshipTypes = append(stats.RelationshipTypes, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.RelationshipTypes.sort()
	return stats, nil
}

// CountNodes returns the total number of nodes. It doubles as the
// connectivity probe.
func (s *Store) CountNodes(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// DrugNeighborhoods returns up to limit drugs ordered by name with their
// TREATS and CAUSES neighbors.
func (s *Store) DrugNeighborhoods(ctx context.Context, limit int) ([]DrugNeighborhood, error) {
	anchors, err := s.anchors(ctx, LabelDrug, limit)
	if err != nil {
		return nil, err
	}
	treats, err := s.neighbors(ctx, anchors, EdgeTreats, LabelDisease, true)
	if err != nil {
		return nil, err
	}
	causes, err := s.neighbors(ctx, anchors, EdgeCauses, LabelSymptom, true)
	if err != nil {
		return nil, err
	}

	out := make([]DrugNeighborhood, 0, len(anchors))
	for _, a := range anchors {
		out = append(out, DrugNeighborhood{
			Name:        a.name,
			Description: a.description,
			Treats:      treats[a.id],
			SideEffects: causes[a.id],
		})
	}
	return out, nil
}

// DiseaseNeighborhoods returns up to limit diseases ordered by name with
// the drugs treating them and their symptoms.
func (s *Store) DiseaseNeighborhoods(ctx context.Context, limit int) ([]DiseaseNeighborhood, error) {
	anchors, err := s.anchors(ctx, LabelDisease, limit)
	if err != nil {
		return nil, err
	}
	drugs, err := s.neighbors(ctx, anchors, EdgeTreats, LabelDrug, false)
	if err != nil {
		return nil, err
	}
	symptoms, err := s.neighbors(ctx, anchors, EdgeHasSymptom, LabelSymptom, true)
	if err != nil {
		return nil, err
	}

	out := make([]DiseaseNeighborhood, 0, len(anchors))
	for _, a := range anchors {
		out = append(out, DiseaseNeighborhood{
			Name:        a.name,
			Description: a.description,
			Treatments:  drugs[a.id],
			Symptoms:    symptoms[a.id],
		})
	}
	return out, nil
}

// Clear removes every node and edge.
func (s *Store) Clear(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM edges"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM nodes")
		return err
	})
}

// Drug returns the drug with the given source id.
func (s *Store) Drug(ctx context.Context, id string) (*Drug, error) {
	var d Drug
	var desc sql.NullString
	var brands, generics, ingredients string
	err := s.db.QueryRowContext(ctx, `
		SELECT node_id, name, key, description, brand_names, generic_names, active_ingredients, approved
		FROM nodes WHERE label = ? AND node_id = ?
	`, string(LabelDrug), id).Scan(&d.ID, &d.Name, &d.Key, &desc, &brands, &generics, &ingredients, &d.Approved)
	if err != nil {
		return nil, err
	}
	d.Description = desc.String
	_ = json.Unmarshal([]byte(brands), &d.BrandNames)
	_ = json.Unmarshal([]byte(generics), &d.GenericNames)
	_ = json.Unmarshal([]byte(ingredients), &d.ActiveIngredients)
	return &d, nil
}

// NodesByLabel returns all nodes with the given label ordered by key.
func (s *Store) NodesByLabel(ctx context.Context, label Label) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, node_id, name, key, description FROM nodes
		WHERE label = ? ORDER BY key, node_id
	`, string(label))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var l string
		var desc sql.NullString
		if err := rows.Scan(&l, &n.ID, &n.Name, &n.Key, &desc); err != nil {
			return nil, err
		}
		n.Label = Label(l)
		n.Description = desc.String
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Edges returns every edge, resolved to endpoint keys, in a stable order.
func (s *Store) Edges(ctx context.Context) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.edge_type, e.relation_type, src.label, src.key, dst.label, dst.key,
			e.confidence, e.frequency, e.source
		FROM edges e
		JOIN nodes src ON src.id = e.source_node
		JOIN nodes dst ON dst.id = e.target_node
		ORDER BY e.edge_type, e.relation_type, src.key, src.label, dst.key, dst.label
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var typ, srcLabel, dstLabel string
		if err := rows.Scan(&typ, &e.RelationType, &srcLabel, &e.SubjectKey, &dstLabel, &e.ObjectKey,
			&e.Confidence, &e.Frequency, &e.Source); err != nil {
			return nil, err
		}
		e.Type = EdgeType(typ)
		e.SubjectLabel = Label(srcLabel)
		e.ObjectLabel = Label(dstLabel)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

type anchor struct {
	id          int64
	name        string
	description string
}

func (s *Store) anchors(ctx context.Context, label Label, limit int) ([]anchor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, '') FROM nodes
		WHERE label = ? ORDER BY name, id LIMIT ?
	`, string(label), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []anchor
	for rows.Next() {
		var a anchor
		if err := rows.Scan(&a.id, &a.name, &a.description); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// neighbors maps each anchor id to the sorted, distinct names of nodes with
// the given label connected by edges of type t. outgoing selects the edge
// direction relative to the anchor.
func (s *Store) neighbors(ctx context.Context, anchors []anchor, t EdgeType, label Label, outgoing bool) (map[int64][]string, error) {
	out := make(map[int64][]string, len(anchors))
	if len(anchors) == 0 {
		return out, nil
	}

	from, to := "source_node", "target_node"
	if !outgoing {
		from, to = to, from
	}

	args := make([]interface{}, 0, len(anchors)+2)
	args = append(args, string(t), string(label))
	for _, a := range anchors {
		args = append(args, a.id)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT e.%[1]s, n.name
		FROM edges e JOIN nodes n ON n.id = e.%[2]s
		WHERE e.edge_type = ? AND n.label = ? AND e.%[1]s IN (%[3]s)
		ORDER BY e.%[1]s, n.name
	`, from, to, repeatPlaceholders(len(anchors))), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names := out[id]
		if len(names) > 0 && names[len(names)-1] == name {
			continue
		}
		out[id] = append(names, name)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func labelOrAny(l Label) string {
	if l == "" {
		return "*"
	}
	return string(l)
}

// sortedCopy returns a sorted copy of names with duplicates removed.
func sortedCopy(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := append([]string(nil), names...)
	sort.Strings(out)
	j := 0
	for i := range out {
		if i > 0 && out[i] == out[j-1] {
			continue
		}
		out[j] = out[i]
		j++
	}
	return out[:j]
}
