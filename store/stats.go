package store

import (
	"bytes"
	"encoding/json"
	"sort"
)

// GraphStats summarizes the graph contents.
type GraphStats struct {
	Nodes              map[string]int `json:"nodes"`
	TotalRelationships int            `json:"total_relationships"`
	RelationshipTypes  TypeCounts     `json:"relationship_types"`
}

// TypeCount is the number of edges of one type.
type TypeCount struct {
	Type  string
	Count int
}

// TypeCounts is ordered by descending count, then by type name. It
// marshals to a JSON object that keeps that order.
type TypeCounts []TypeCount

func newGraphStats() *GraphStats {
	nodes := make(map[string]int, len(Labels))
	for _, l := range Labels {
		nodes[string(l)] = 0
	}
	return &GraphStats{Nodes: nodes, RelationshipTypes: TypeCounts{}}
}

func (tc TypeCounts) sort() {
	sort.SliceStable(tc, func(i, j int) bool {
		if tc[i].Count != tc[j].Count {
			return tc[i].Count > tc[j].Count
		}
		return tc[i].Type < tc[j].Type
	})
}

// Get returns the count for a type, or zero.
func (tc TypeCounts) Get(t EdgeType) int {
	for _, c := range tc {
		if c.Type == string(t) {
			return c.Count
		}
	}
	return 0
}

// MarshalJSON writes the counts as an object in slice order.
func (tc TypeCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range tc {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Type)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, _ := json.Marshal(c.Count)
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of counts, preserving key order.
func (tc *TypeCounts) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	out := TypeCounts{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var n int
		if err := dec.Decode(&n); err != nil {
			return err
		}
		out = append(out, TypeCount{Type: key, Count: n})
	}
	*tc = out
	return nil
}
