package store

// schemaSQL is the DDL for the graph tables. Drugs share the nodes table
// with the other labels; their list attributes are JSON arrays.
const schemaSQL = `
-- Nodes: identity is (label, node_id). key is the canonical name that
-- relationship endpoints are matched on.
CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY,
    label TEXT NOT NULL,
    node_id TEXT NOT NULL,
    name TEXT NOT NULL,
    key TEXT NOT NULL,
    brand_names JSON,
    generic_names JSON,
    active_ingredients JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(label, node_id)
);

-- Edges: identity is (source, target, edge_type, relation_type).
-- relation_type is empty except for RELATED_TO.
CREATE TABLE IF NOT EXISTS edges (
    id INTEGER PRIMARY KEY,
    source_node INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    target_node INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    edge_type TEXT NOT NULL,
    relation_type TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL,
    frequency INTEGER NOT NULL DEFAULT 1,
    source TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(source_node, target_node, edge_type, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_nodes_key ON nodes(key);
CREATE INDEX IF NOT EXISTS idx_nodes_label_name ON nodes(label, name);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_node, edge_type);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_node, edge_type);
CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(edge_type);
`
