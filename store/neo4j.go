package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig holds connection settings for the Neo4j backend.
type Neo4jConfig struct {
	URI            string        `json:"uri" yaml:"uri"`
	User           string        `json:"user" yaml:"user"`
	Password       string        `json:"password" yaml:"password"`
	Database       string        `json:"database" yaml:"database"`
	MaxPoolSize    int           `json:"max_pool_size" yaml:"max_pool_size"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// Neo4j is the Neo4j-backed Graph. Every node carries a key property that
// relationship endpoints are matched on.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ Graph = (*Neo4j)(nil)

// OpenNeo4j connects to Neo4j, verifies connectivity and ensures the
// uniqueness constraints and key indexes exist.
func OpenNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4j, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("neo4j: uri required")
	}
	user := cfg.User
	if user == "" {
		user = "neo4j"
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pool := cfg.MaxPoolSize
	if pool <= 0 {
		pool = 50
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(user, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = pool
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	g := &Neo4j{driver: driver, database: cfg.Database}
	if err := g.ensureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return g, nil
}

// Close releases the driver.
func (g *Neo4j) Close() error {
	if g.driver == nil {
		return nil
	}
	err := g.driver.Close(context.Background())
	g.driver = nil
	return err
}

func (g *Neo4j) ensureSchema(ctx context.Context) error {
	for _, q := range schemaCypher() {
		if err := g.write(ctx, q, nil); err != nil {
			return fmt.Errorf("neo4j: schema: %w", err)
		}
	}
	return nil
}

func schemaCypher() []string {
	var out []string
	for _, l := range Labels {
		lower := strings.ToLower(string(l))
		out = append(out,
			fmt.Sprintf("CREATE CONSTRAINT %s_id IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE", lower, l),
			fmt.Sprintf("CREATE INDEX %s_key IF NOT EXISTS FOR (n:%s) ON (n.key)", lower, l),
		)
	}
	return out
}

// UpsertDrug merges a Drug node on its source id.
func (g *Neo4j) UpsertDrug(ctx context.Context, d Drug) error {
	return g.write(ctx, `
		MERGE (d:Drug {id: $id})
		ON CREATE SET d.created_at = datetime()
		SET d.name = $name,
			d.key = $key,
			d.brand_names = $brand_names,
			d.generic_names = $generic_names,
			d.active_ingredients = $active_ingredients,
			d.approved = $approved,
			d.description = coalesce($description, d.description),
			d.updated_at = datetime()
	`, map[string]any{
		"id":                 d.ID,
		"name":               d.Name,
		"key":                d.Key,
		"brand_names":        nonNil(d.BrandNames),
		"generic_names":      nonNil(d.GenericNames),
		"active_ingredients": nonNil(d.ActiveIngredients),
		"approved":           d.Approved,
		"description":        nullable(d.Description),
	})
}

// UpsertNode merges a Disease, Symptom or Chemical node on its derived id.
func (g *Neo4j) UpsertNode(ctx context.Context, n Node) error {
	q, err := nodeCypher(n.Label)
	if err != nil {
		return err
	}
	return g.write(ctx, q, map[string]any{
		"id":          n.ID,
		"name":        n.Name,
		"key":         n.Key,
		"description": nullable(n.Description),
	})
}

func nodeCypher(l Label) (string, error) {
	switch l {
	case LabelDisease, LabelSymptom, LabelChemical:
	default:
		return "", fmt.Errorf("neo4j: unsupported node label %q", l)
	}
	return fmt.Sprintf(`
		MERGE (n:%s {id: $id})
		ON CREATE SET n.name = $name, n.key = $key, n.created_at = datetime()
		SET n.description = coalesce($description, n.description),
			n.updated_at = datetime()
	`, l), nil
}

// UpsertEdge merges the relationship between every matching node pair.
func (g *Neo4j) UpsertEdge(ctx context.Context, e Edge) error {
	q := edgeCypher(e)
	res, err := g.session(ctx, neo4j.AccessModeWrite, func(tx neo4j.ManagedTransaction) (any, error) {
		r, err := tx.Run(ctx, q, map[string]any{
			"subject":       e.SubjectKey,
			"object":        e.ObjectKey,
			"relation_type": e.RelationType,
			"confidence":    e.Confidence,
			"frequency":     int64(e.Frequency),
			"source":        e.Source,
		})
		if err != nil {
			return nil, err
		}
		rec, err := r.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Get("merged")
		return n, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j: upserting %s edge: %w", e.Type, err)
	}
	if n, _ := res.(int64); n == 0 {
		return fmt.Errorf("%w: %s(%s) -[%s]-> %s(%s)", ErrMissingEndpoint,
			labelOrAny(e.SubjectLabel), e.SubjectKey, e.Type, labelOrAny(e.ObjectLabel), e.ObjectKey)
	}
	return nil
}

// edgeCypher builds the merge statement for e. Labels and edge types come
// from fixed enumerations so they are interpolated; keys are parameters.
func edgeCypher(e Edge) string {
	pattern := func(v string, l Label) string {
		if l == "" {
			return v
		}
		return v + ":" + string(l)
	}
	rel := fmt.Sprintf("[r:%s]", e.Type)
	if e.RelationType != "" {
		rel = fmt.Sprintf("[r:%s {relation_type: $relation_type}]", e.Type)
	}
	return fmt.Sprintf(`
		MATCH (%s {key: $subject})
		MATCH (%s {key: $object})
		MERGE (s)-%s->(t)
		SET r.confidence = $confidence,
			r.frequency = $frequency,
			r.source = $source
		RETURN count(r) AS merged
	`, pattern("s", e.SubjectLabel), pattern("t", e.ObjectLabel), rel)
}

// Stats returns node counts per label and relationship counts per type.
func (g *Neo4j) Stats(ctx context.Context) (*GraphStats, error) {
	stats := newGraphStats()
	for _, l := range Labels {
		n, err := g.count(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", l))
		if err != nil {
			return nil, err
		}
		stats.Nodes[string(l)] = n
	}

	recs, err := g.read(ctx, "MATCH ()-[r]->() RETURN type(r) AS type, count(r) AS c", nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		t, _ := rec.Get("type")
		c, _ := rec.Get("c")
		tc := TypeCount{Type: asString(t), Count: asInt(c)}
		stats.TotalRelationships += tc.Count
		stats.RelationshipTypes = append(stats.RelationshipTypes, tc)
	}
	stats.RelationshipTypes.sort()
	return stats, nil
}

// CountNodes returns the total number of nodes.
func (g *Neo4j) CountNodes(ctx context.Context) (int, error) {
	return g.count(ctx, "MATCH (n) RETURN count(n) AS c")
}

// DrugNeighborhoods returns up to limit drugs with TREATS and CAUSES neighbors.
func (g *Neo4j) DrugNeighborhoods(ctx context.Context, limit int) ([]DrugNeighborhood, error) {
	recs, err := g.read(ctx, `
		MATCH (d:Drug)
		OPTIONAL MATCH (d)-[:TREATS]->(dis:Disease)
		OPTIONAL MATCH (d)-[:CAUSES]->(s:Symptom)
		RETURN d.name AS name, coalesce(d.description, '') AS description,
			collect(DISTINCT dis.name) AS treats,
			collect(DISTINCT s.name) AS side_effects
		ORDER BY name
		LIMIT $limit
	`, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	out := make([]DrugNeighborhood, 0, len(recs))
	for _, rec := range recs {
		name, _ := rec.Get("name")
		desc, _ := rec.Get("description")
		treats, _ := rec.Get("treats")
		side, _ := rec.Get("side_effects")
		out = append(out, DrugNeighborhood{
			Name:        asString(name),
			Description: asString(desc),
			Treats:      sortedCopy(asStrings(treats)),
			SideEffects: sortedCopy(asStrings(side)),
		})
	}
	return out, nil
}

// DiseaseNeighborhoods returns up to limit diseases with treating drugs
// and symptoms.
func (g *Neo4j) DiseaseNeighborhoods(ctx context.Context, limit int) ([]DiseaseNeighborhood, error) {
	recs, err := g.read(ctx, `
		MATCH (dis:Disease)
		OPTIONAL MATCH (d:Drug)-[:TREATS]->(dis)
		OPTIONAL MATCH (dis)-[:HAS_SYMPTOM]->(s:Symptom)
		RETURN dis.name AS name, coalesce(dis.description, '') AS description,
			collect(DISTINCT d.name) AS treatments,
			collect(DISTINCT s.name) AS symptoms
		ORDER BY name
		LIMIT $limit
	`, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	out := make([]DiseaseNeighborhood, 0, len(recs))
	for _, rec := range recs {
		name, _ := rec.Get("name")
		desc, _ := rec.Get("description")
		treatments, _ := rec.Get("treatments")
		symptoms, _ := rec.Get("symptoms")
		out = append(out, DiseaseNeighborhood{
			Name:        asString(name),
			Description: asString(desc),
			Treatments:  sortedCopy(asStrings(treatments)),
			Symptoms:    sortedCopy(asStrings(symptoms)),
		})
	}
	return out, nil
}

// Clear detaches and deletes every node.
func (g *Neo4j) Clear(ctx context.Context) error {
	slog.Warn("neo4j: clearing graph", "database", g.database)
	return g.write(ctx, "MATCH (n) DETACH DELETE n", nil)
}

func (g *Neo4j) session(ctx context.Context, mode neo4j.AccessMode, fn neo4j.ManagedTransactionWork) (any, error) {
	if g.driver == nil {
		return nil, ErrClosed
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: g.database})
	defer sess.Close(ctx)
	if mode == neo4j.AccessModeRead {
		return sess.ExecuteRead(ctx, fn)
	}
	return sess.ExecuteWrite(ctx, fn)
}

func (g *Neo4j) write(ctx context.Context, q string, params map[string]any) error {
	_, err := g.session(ctx, neo4j.AccessModeWrite, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, params)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

func (g *Neo4j) read(ctx context.Context, q string, params map[string]any) ([]*neo4j.Record, error) {
	out, err := g.session(ctx, neo4j.AccessModeRead, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	recs, _ := out.([]*neo4j.Record)
	return recs, nil
}

func (g *Neo4j) count(ctx context.Context, q string) (int, error) {
	recs, err := g.read(ctx, q, nil)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	c, _ := recs[0].Get("c")
	return asInt(c), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func asStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
