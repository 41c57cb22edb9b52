package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowhunter/backend/internal/alerts"
	"github.com/shadowhunter/backend/internal/detect"
	"github.com/shadowhunter/backend/internal/graph"
	"github.com/shadowhunter/backend/internal/intel"
	"github.com/shadowhunter/backend/internal/response"
	"github.com/shadowhunter/backend/internal/session"
	"github.com/shadowhunter/backend/internal/telemetry"
)

// recordingCast captures broadcast frames in order.
type recordingCast struct {
	mu     sync.Mutex
	frames []string
}

func (r *recordingCast) Broadcast(frameType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frameType)
}

func (r *recordingCast) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.frames...)
}

type harness struct {
	engine *Engine
	store  *graph.MemoryStore
	buffer *alerts.Buffer
	cast   *recordingCast
}

// newHarness wires an engine without ML, probing, or Prometheus so each
// scenario exercises detection, enrichment, and the response tail in
// isolation.
func newHarness(t *testing.T, responder *response.Manager) *harness {
	t.Helper()
	cidr := intel.NewCIDRMatcher()
	ja3 := intel.NewJA3Matcher()
	h := &harness{
		store:  graph.NewMemoryStore(),
		buffer: alerts.NewBuffer(100),
		cast:   &recordingCast{},
	}
	h.engine = NewEngine(Options{
		Topic:     "sh.telemetry.traffic.v1",
		Store:     h.store,
		Detectors: detect.NewRegistry(cidr, ja3, nil),
		Sessions:  session.NewTracker(30 * time.Minute),
		Responder: responder,
		Broadcast: h.cast,
		Buffer:    h.buffer,
		CIDR:      cidr,
		JA3:       ja3,
	})
	return h
}

func tlsFlow(src, dst, sni string, meta map[string]string) *telemetry.FlowEvent {
	m := map[string]string{}
	if sni != "" {
		m[telemetry.MetaSNI] = sni
	}
	for k, v := range meta {
		m[k] = v
	}
	return &telemetry.FlowEvent{
		SourceIP:        src,
		DestinationIP:   dst,
		SourcePort:      51000,
		DestinationPort: 443,
		Protocol:        telemetry.ProtocolHTTPS,
		BytesSent:       4_000,
		BytesReceived:   12_000,
		Timestamp:       time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC),
		Metadata:        m,
	}
}

// ============================================================================
// DETECTION AND ENRICHMENT
// ============================================================================

func TestShadowAIAccessProducesEnrichedAlert(t *testing.T) {
	responder := response.NewManager(true, 10, time.Hour)
	h := newHarness(t, responder)
	ctx := context.Background()

	// Python client reaching the OpenAI API by name, straight into the
	// provider's address block: the named-service rule wins the tie and the
	// CIDR hit rides along as enrichment.
	event := tlsFlow("192.168.1.10", "13.107.42.14", "api.openai.com", map[string]string{
		telemetry.MetaJA3: "e7d705a3286e19ea42f587b344ee6865",
	})
	require.NoError(t, h.engine.handleFlow(ctx, event))

	all := h.buffer.All()
	require.Len(t, all, 1)
	a := all[0]

	assert.Equal(t, "SH-000001", a.ID)
	assert.Equal(t, alerts.SeverityHigh, a.Severity)
	assert.Equal(t, detect.PluginAIDomain, a.MatchedRule)
	assert.Equal(t, "192.168.1.10", a.Source)
	assert.Equal(t, "api.openai.com", a.Target)
	assert.Equal(t, "13.107.42.14", a.DestinationIP)

	require.NotNil(t, a.CIDRMatch)
	assert.Equal(t, "OpenAI", a.CIDRMatch.Provider)
	require.NotNil(t, a.JA3Intel)
	assert.Equal(t, "Python requests 2.x (urllib3)", a.JA3Intel.ClientName)
	assert.Contains(t, a.JA3Intel.Tags, "spoofing_risk")
	assert.Nil(t, a.JA3Intel.Spoofing)

	// Shadow AI usage alone never quarantines the workstation.
	assert.Nil(t, a.AutoResponse)
	assert.False(t, responder.IsBlocked("192.168.1.10"))
	assert.Equal(t, []string{FrameAlert}, h.cast.types())
}

func TestProviderNetworkAccessCarriesCIDRIntel(t *testing.T) {
	responder := response.NewManager(true, 10, time.Hour)
	h := newHarness(t, responder)

	// Direct-to-IP access into the OpenAI block: HIGH via CIDR intel, with
	// the entry's own risk level preserved in the enrichment.
	event := tlsFlow("192.168.1.22", "13.107.42.14", "", nil)
	require.NoError(t, h.engine.handleFlow(context.Background(), event))

	all := h.buffer.All()
	require.Len(t, all, 1)
	a := all[0]

	assert.Equal(t, alerts.SeverityHigh, a.Severity)
	assert.Equal(t, detect.PluginCIDRIntel, a.MatchedRule)
	assert.Equal(t, "13.107.42.14", a.Target, "no hostname falls back to the IP")
	require.NotNil(t, a.CIDRMatch)
	assert.Equal(t, "OpenAI", a.CIDRMatch.Provider)
	assert.Equal(t, "13.107.42.0/24", a.CIDRMatch.CIDR)
	assert.Equal(t, "CRITICAL", a.CIDRMatch.RiskLevel)
	assert.False(t, responder.IsBlocked("192.168.1.22"))
}

func TestDNSTunnelingAlert(t *testing.T) {
	h := newHarness(t, nil)

	event := &telemetry.FlowEvent{
		SourceIP:        "192.168.1.10",
		DestinationIP:   "198.51.100.53",
		DestinationPort: 53,
		Protocol:        telemetry.ProtocolDNS,
		BytesSent:       1_200,
		Timestamp:       time.Now(),
		Metadata:        map[string]string{telemetry.MetaDNSQuery: "aaaa.exfil.example"},
	}
	require.NoError(t, h.engine.handleFlow(context.Background(), event))

	all := h.buffer.All()
	require.Len(t, all, 1)
	assert.Equal(t, detect.PluginDNSTunneling, all[0].MatchedRule)
	assert.Equal(t, alerts.SeverityHigh, all[0].Severity)
	assert.Equal(t, "aaaa.exfil.example", all[0].Target)
}

func TestWhitelistedFlowIsSuppressed(t *testing.T) {
	h := newHarness(t, nil)

	event := &telemetry.FlowEvent{
		SourceIP:        "192.168.1.10",
		DestinationIP:   "224.0.0.251",
		DestinationPort: 5353,
		Protocol:        telemetry.ProtocolUDP,
		BytesSent:       9_000_000, // would trip exfiltration if evaluated
		Timestamp:       time.Now(),
	}
	require.NoError(t, h.engine.handleFlow(context.Background(), event))

	assert.Empty(t, h.buffer.All())
	assert.Empty(t, h.cast.types())
}

// ============================================================================
// AUTO-RESPONSE
// ============================================================================

func TestAttackToolTriggersQuarantine(t *testing.T) {
	responder := response.NewManager(true, 10, time.Hour)
	h := newHarness(t, responder)

	// A Cobalt Strike fingerprint on an otherwise ordinary AI-service flow:
	// the attack-tool verdict outranks everything else on the flow.
	event := tlsFlow("192.168.1.66", "13.107.42.14", "api.openai.com", map[string]string{
		telemetry.MetaJA3: "51c64c77e60f3980eea90869b68c58a8", // Cobalt Strike
	})
	require.NoError(t, h.engine.handleFlow(context.Background(), event))

	all := h.buffer.All()
	require.Len(t, all, 1)
	a := all[0]

	assert.Equal(t, alerts.SeverityCritical, a.Severity)
	assert.Equal(t, detect.PluginJA3, a.MatchedRule)
	assert.Contains(t, a.Description, "ATTACK TOOL DETECTED: Cobalt Strike Beacon")
	require.NotNil(t, a.AutoResponse)
	assert.True(t, a.AutoResponse.Blocked)
	assert.Equal(t, "192.168.1.66", a.AutoResponse.IP)
	assert.True(t, responder.IsBlocked("192.168.1.66"))

	// The quarantine frame goes out before the alert frame.
	assert.Equal(t, []string{FrameAutoResponse, FrameAlert}, h.cast.types())
}

func TestWhitelistedSourceSurvivesCriticalAlert(t *testing.T) {
	responder := response.NewManager(true, 10, time.Hour)
	h := newHarness(t, responder)

	// The gateway itself tripping an attack-tool signature must not be
	// quarantined.
	event := tlsFlow("192.168.1.1", "198.51.100.20", "", map[string]string{
		telemetry.MetaJA3: "51c64c77e60f3980eea90869b68c58a8",
	})
	require.NoError(t, h.engine.handleFlow(context.Background(), event))

	all := h.buffer.All()
	require.Len(t, all, 1)
	require.NotNil(t, all[0].AutoResponse)
	assert.False(t, all[0].AutoResponse.Blocked)
	assert.False(t, responder.IsBlocked("192.168.1.1"))
	// No auto_response frame for a rejected block.
	assert.Equal(t, []string{FrameAlert}, h.cast.types())
}

// ============================================================================
// SESSION ESCALATION
// ============================================================================

func TestSessionRiskEscalatesSeverity(t *testing.T) {
	h := newHarness(t, nil)
	base := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)

	// Seed a hot session: rapid, voluminous traffic to two AI services.
	h.engine.sessions.Record("192.168.1.13", "api.openai.com", "shadow", 60_000, base)
	h.engine.sessions.Record("192.168.1.13", "api.anthropic.com", "shadow", 60_000, base.Add(time.Second))
	h.engine.sessions.Record("192.168.1.13", "api.openai.com", "shadow", 60_000, base.Add(2*time.Second))

	// A MEDIUM unusual-port hit from the same host escalates to HIGH.
	event := &telemetry.FlowEvent{
		SourceIP:        "192.168.1.13",
		DestinationIP:   "198.51.100.40",
		DestinationPort: 9999,
		Protocol:        telemetry.ProtocolTCP,
		BytesSent:       500,
		Timestamp:       base.Add(3 * time.Second),
	}
	require.NoError(t, h.engine.handleFlow(context.Background(), event))

	all := h.buffer.All()
	require.Len(t, all, 1)
	a := all[0]

	assert.Equal(t, alerts.SeverityHigh, a.Severity)
	assert.Equal(t, detect.PluginUnusualPort, a.MatchedRule)
	assert.NotEmpty(t, a.SessionFlags)
	assert.Contains(t, a.SessionFlags, session.FlagBurstAIUsage)
	assert.Greater(t, a.SessionRisk, 0.7)
}

// ============================================================================
// TOPOLOGY WRITER
// ============================================================================

func TestGraphWriterUpsertsNodesAndAccumulatesEdges(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	e1 := tlsFlow("192.168.1.10", "13.107.42.14", "api.openai.com", nil)
	e2 := tlsFlow("192.168.1.10", "13.107.42.14", "api.openai.com", nil)
	require.NoError(t, h.engine.handleGraph(ctx, e1))
	require.NoError(t, h.engine.handleGraph(ctx, e2))

	nodes, err := h.store.AllNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	byID := map[string]*graph.Node{}
	for _, n := range nodes {
		byID[n.ID] = n
	}
	src := byID["192.168.1.10"]
	require.NotNil(t, src)
	assert.Equal(t, "internal", src.Properties["node_type"])

	dst := byID["13.107.42.14"]
	require.NotNil(t, dst)
	assert.Equal(t, "shadow", dst.Properties["node_type"])
	assert.Contains(t, dst.Labels, "AIService")
	assert.Equal(t, "api.openai.com", dst.Properties["hostname"])

	edges, err := h.store.AllEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, graph.RelationTalksTo, edges[0].Relation)
	// Two 16KB samples accumulate.
	assert.InDelta(t, 32_000, edges[0].Properties[graph.PropByteCount].(float64), 1e-9)
}

// ============================================================================
// CENTRALITY FINDINGS
// ============================================================================

func TestEmitFindingsPublishesSyntheticAlerts(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.EmitFindings([]graph.Finding{{
		NodeID:         "192.168.1.50",
		Score:          0.82,
		Connections:    6,
		NodeType:       "internal",
		ConnectedTo:    []string{"a", "b"},
		RiskAssessment: "HIGH RISK: Node 192.168.1.50 bridges networks",
		Severity:       alerts.SeverityHigh,
	}})

	all := h.buffer.All()
	require.Len(t, all, 1)
	a := all[0]

	assert.Equal(t, "graph_centrality_analysis", a.MatchedRule)
	assert.Equal(t, "192.168.1.50", a.Source)
	assert.Equal(t, "network", a.Target)
	require.NotNil(t, a.GraphCentrality)
	assert.InDelta(t, 0.82, a.GraphCentrality.CentralityScore, 1e-9)
	assert.Equal(t, 6, a.GraphCentrality.Connections)
	assert.Equal(t, []string{FrameAlert}, h.cast.types())
}

// ============================================================================
// BUS INTEGRATION
// ============================================================================

func TestAlertIDsAreSequential(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.engine.handleFlow(ctx,
			tlsFlow("192.168.1.10", "198.51.100.10", "claude.ai", nil)))
	}

	all := h.buffer.All()
	require.Len(t, all, 3)
	assert.Equal(t, "SH-000001", all[0].ID)
	assert.Equal(t, "SH-000002", all[1].ID)
	assert.Equal(t, "SH-000003", all[2].ID)
}
