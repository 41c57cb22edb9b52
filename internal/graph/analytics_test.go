package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStar(t *testing.T, s Store, center string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.AddNode(ctx, center, []string{"Host"},
		map[string]interface{}{"node_type": "internal"}))
	leaves := []struct {
		id       string
		nodeType string
	}{
		{"192.168.1.20", "internal"},
		{"192.168.1.21", "internal"},
		{"198.51.100.5", "external"},
		{"13.107.42.14", "shadow"},
	}
	for _, leaf := range leaves {
		require.NoError(t, s.AddNode(ctx, leaf.id, []string{"Host"},
			map[string]interface{}{"node_type": leaf.nodeType}))
		require.NoError(t, s.AddEdge(ctx, center, leaf.id, RelationTalksTo, nil))
	}
}

// ============================================================================
// CENTRALITY DETECTION
// ============================================================================

func TestStarCenterIsFlaggedAsPivot(t *testing.T) {
	s := NewMemoryStore()
	a := NewAnalyzer(s, time.Minute, 0.3, 3)
	seedStar(t, s, "192.168.1.50")

	findings, err := a.Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "192.168.1.50", f.NodeID)
	// Every leaf-to-leaf shortest path routes through the center: 12 ordered
	// pairs over the (n-1)(n-2)=12 normalizer.
	assert.InDelta(t, 1.0, f.Score, 1e-9)
	assert.Equal(t, 4, f.Connections)
	assert.Equal(t, "internal", f.NodeType)
	assert.Len(t, f.ConnectedTo, 4)

	// Internal node bridging to external neighbors is the worst case.
	assert.Equal(t, "HIGH", string(f.Severity))
	assert.Contains(t, f.RiskAssessment, "HIGH RISK")
	assert.Contains(t, f.RiskAssessment, "lateral movement pivot point")
	assert.Contains(t, f.RiskAssessment, "192.168.1.50")

	assert.Equal(t, int64(1), a.Runs())
}

func TestGatewayAddressesAreNeverFlagged(t *testing.T) {
	s := NewMemoryStore()
	a := NewAnalyzer(s, time.Minute, 0.3, 3)
	// Same star shape, but the hub is the conventional gateway address.
	seedStar(t, s, "172.16.5.1")

	findings, err := a.Analyze(context.Background())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestTinyGraphsAreSkipped(t *testing.T) {
	s := NewMemoryStore()
	a := NewAnalyzer(s, time.Minute, 0.3, 3)
	require.NoError(t, s.AddEdge(context.Background(), "a", "b", RelationTalksTo, nil))

	findings, err := a.Analyze(context.Background())
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Equal(t, int64(0), a.Runs())
}

func TestShouldFlagBoundaries(t *testing.T) {
	a := NewAnalyzer(NewMemoryStore(), time.Minute, 0.3, 3)

	tests := []struct {
		name   string
		id     string
		score  float64
		degree int
		want   bool
	}{
		{"below threshold", "10.0.0.5", 0.29, 5, false},
		{"below degree floor", "10.0.0.5", 0.30, 2, false},
		{"at both boundaries", "10.0.0.5", 0.30, 3, true},
		{"well above", "198.51.100.9", 0.80, 6, true},
		{"known resolver", "8.8.8.8", 0.90, 5, false},
		{"gateway suffix", "10.20.30.1", 0.90, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.shouldFlag(tt.id, tt.score, tt.degree))
		})
	}
}

// ============================================================================
// BRIDGE TRACKING
// ============================================================================

func TestBridgesRankedByCentrality(t *testing.T) {
	a := NewAnalyzer(NewMemoryStore(), time.Minute, 0.3, 3)

	a.recordBridge("node-low", 0.35)
	a.recordBridge("node-high", 0.92)
	a.recordBridge("node-mid", 0.60)

	bridges := a.Bridges()
	require.Len(t, bridges, 3)
	assert.Equal(t, "node-high", bridges[0]["node"])
	assert.Equal(t, "node-mid", bridges[1]["node"])
	assert.Equal(t, "node-low", bridges[2]["node"])
}

func TestBridgeHistoryCapped(t *testing.T) {
	a := NewAnalyzer(NewMemoryStore(), time.Minute, 0.3, 3)

	for i := 0; i < historyCap+10; i++ {
		a.recordBridge(fmt.Sprintf("node-%d", i), 0.5)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.bridgeOrder, historyCap)
	assert.Len(t, a.bridgeScores, historyCap)
	_, oldestKept := a.bridgeScores["node-10"]
	assert.True(t, oldestKept)
	_, evicted := a.bridgeScores["node-9"]
	assert.False(t, evicted)
}
