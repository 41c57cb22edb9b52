package graph

import (
	"context"
	"sync"
)

type edgeKey struct {
	source, target, relation string
}

// MemoryStore is the in-process topology store: a mutex-guarded multi-graph
// used when no database DSN is configured, and by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[edgeKey]*Edge
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*Node),
		edges: make(map[edgeKey]*Edge),
	}
}

func (s *MemoryStore) AddNode(ctx context.Context, id string, labels []string, props map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertNodeLocked(id, labels, props)
	return nil
}

func (s *MemoryStore) AddEdge(ctx context.Context, source, target, relation string, props map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[source]; !ok {
		s.upsertNodeLocked(source, []string{"Unknown"}, nil)
	}
	if _, ok := s.nodes[target]; !ok {
		s.upsertNodeLocked(target, []string{"Unknown"}, nil)
	}

	key := edgeKey{source: source, target: target, relation: relation}
	if existing, ok := s.edges[key]; ok {
		existing.Properties = mergeProps(existing.Properties, props)
		return nil
	}
	s.edges[key] = &Edge{
		Source:     source,
		Target:     target,
		Relation:   relation,
		Properties: mergeProps(nil, props),
	}
	return nil
}

func (s *MemoryStore) upsertNodeLocked(id string, labels []string, props map[string]interface{}) {
	if existing, ok := s.nodes[id]; ok {
		existing.Labels = mergeLabels(existing.Labels, labels)
		existing.Properties = mergeProps(existing.Properties, props)
		return
	}
	s.nodes[id] = &Node{
		ID:         id,
		Labels:     mergeLabels(nil, labels),
		Properties: mergeProps(nil, props),
	}
}

func (s *MemoryStore) AllNodes(ctx context.Context) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		copied := &Node{
			ID:         n.ID,
			Labels:     append([]string{}, n.Labels...),
			Properties: make(map[string]interface{}, len(n.Properties)),
		}
		for k, v := range n.Properties {
			copied.Properties[k] = v
		}
		out = append(out, copied)
	}
	return out, nil
}

func (s *MemoryStore) AllEdges(ctx context.Context) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Edge, 0, len(s.edges))
	for _, e := range s.edges {
		copied := &Edge{
			Source:     e.Source,
			Target:     e.Target,
			Relation:   e.Relation,
			Properties: make(map[string]interface{}, len(e.Properties)),
		}
		for k, v := range e.Properties {
			copied.Properties[k] = v
		}
		out = append(out, copied)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
