package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeUpsertMergesLabelsAndProps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddNode(ctx, "13.107.42.14", []string{"Host"},
		map[string]interface{}{"node_type": "external", "last_seen": "t1"}))
	require.NoError(t, s.AddNode(ctx, "13.107.42.14", []string{"Host", "AIService"},
		map[string]interface{}{"node_type": "shadow", "last_seen": "t2", "hostname": "api.openai.com"}))

	nodes, err := s.AllNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	n := nodes[0]
	assert.ElementsMatch(t, []string{"Host", "AIService"}, n.Labels)
	// Non-cumulative properties are last-write-wins.
	assert.Equal(t, "shadow", n.Properties["node_type"])
	assert.Equal(t, "t2", n.Properties["last_seen"])
	assert.Equal(t, "api.openai.com", n.Properties["hostname"])
}

func TestEdgeUpsertAccumulatesByteCount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddEdge(ctx, "192.168.1.10", "13.107.42.14", RelationTalksTo,
		map[string]interface{}{PropByteCount: int64(1000), "protocol": "HTTPS"}))
	require.NoError(t, s.AddEdge(ctx, "192.168.1.10", "13.107.42.14", RelationTalksTo,
		map[string]interface{}{PropByteCount: int64(2500), "protocol": "HTTPS"}))

	edges, err := s.AllEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.InDelta(t, 3500, edges[0].Properties[PropByteCount].(float64), 1e-9)
	assert.Equal(t, "HTTPS", edges[0].Properties["protocol"])
}

func TestEdgeIdentityIsSourceTargetRelation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddEdge(ctx, "a", "b", RelationTalksTo, nil))
	require.NoError(t, s.AddEdge(ctx, "b", "a", RelationTalksTo, nil)) // reverse is distinct
	require.NoError(t, s.AddEdge(ctx, "a", "b", "PROBED", nil))        // relation is distinct

	edges, err := s.AllEdges(ctx)
	require.NoError(t, err)
	assert.Len(t, edges, 3)
}

func TestAddEdgeAutoCreatesUnknownEndpoints(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddEdge(ctx, "10.0.0.5", "198.51.100.9", RelationTalksTo, nil))

	nodes, err := s.AllNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	for _, n := range nodes {
		assert.Equal(t, []string{"Unknown"}, n.Labels)
	}
}

func TestSnapshotsAreDeepCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AddNode(ctx, "a", []string{"Host"}, map[string]interface{}{"node_type": "internal"}))

	nodes, err := s.AllNodes(ctx)
	require.NoError(t, err)
	nodes[0].Properties["node_type"] = "mutated"
	nodes[0].Labels[0] = "Mutated"

	again, err := s.AllNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, "internal", again[0].Properties["node_type"])
	assert.Equal(t, "Host", again[0].Labels[0])
}
