// Package graph stores the observed communication topology and analyzes it
// for lateral-movement pivots.
//
// The store is upsert-only: nodes and edges are created on first reference
// and mutated in place afterwards. Eviction is a deployment concern.
package graph

import "context"

// RelationTalksTo is the only relation the core pipeline writes.
const RelationTalksTo = "TALKS_TO"

// PropByteCount is the edge property that accumulates across upserts. All
// other properties are last-write-wins; the data model calls this one a
// cumulative count, so the store sums it.
const PropByteCount = "byte_count"

// Node is one observed endpoint (IP or hostname). Identity is the ID.
type Node struct {
	ID         string                 `json:"id"`
	Labels     []string               `json:"labels"`
	Properties map[string]interface{} `json:"properties"`
}

// Edge is a directed relation keyed by (source, target, relation).
type Edge struct {
	Source     string                 `json:"source"`
	Target     string                 `json:"target"`
	Relation   string                 `json:"relation"`
	Properties map[string]interface{} `json:"properties"`
}

// Store is the topology persistence contract. Implementations are safe for
// concurrent use: readers may overlap, writers are serialized.
type Store interface {
	// AddNode upserts a node: labels merge by set union, properties by
	// key overwrite (byte_count accumulates).
	AddNode(ctx context.Context, id string, labels []string, props map[string]interface{}) error

	// AddEdge upserts an edge by its (source, target, relation) triple.
	// Missing endpoints are auto-created with the label "Unknown".
	AddEdge(ctx context.Context, source, target, relation string, props map[string]interface{}) error

	// AllNodes returns every stored node.
	AllNodes(ctx context.Context) ([]*Node, error)

	// AllEdges returns every stored edge.
	AllEdges(ctx context.Context) ([]*Edge, error)

	Close() error
}

// mergeLabels unions b into a, preserving a's order and deduplicating.
func mergeLabels(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, l := range append(append([]string{}, a...), b...) {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// mergeProps overlays src onto dst, summing byte_count and overwriting
// everything else.
func mergeProps(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		if k == PropByteCount {
			dst[k] = toFloat(dst[k]) + toFloat(v)
			continue
		}
		dst[k] = v
	}
	return dst
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}
