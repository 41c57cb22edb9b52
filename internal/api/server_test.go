package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowhunter/backend/internal/alerts"
	"github.com/shadowhunter/backend/internal/detect"
	"github.com/shadowhunter/backend/internal/graph"
	"github.com/shadowhunter/backend/internal/intel"
	"github.com/shadowhunter/backend/internal/probe"
	"github.com/shadowhunter/backend/internal/response"
	"github.com/shadowhunter/backend/internal/stream"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *httptest.Server) {
	t.Helper()
	cidr := intel.NewCIDRMatcher()
	ja3 := intel.NewJA3Matcher()
	store := graph.NewMemoryStore()

	s := NewServer(Options{
		Addr:     ":0",
		APIKey:   apiKey,
		Mode:     "demo",
		Store:    store,
		Buffer:   alerts.NewBuffer(100),
		Response: response.NewManager(true, 10, time.Hour),
		Prober:   probe.NewInterrogator(false, 10, time.Minute, time.Second),
		Hub:      stream.NewHub(),
		Analyzer: graph.NewAnalyzer(store, time.Minute, 0.3, 3),
		Registry: detect.NewRegistry(cidr, ja3, nil),
		CIDR:     cidr,
		JA3:      ja3,
	})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, srv
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// ============================================================================
// READ SURFACE
// ============================================================================

func TestHealthAndStatus(t *testing.T) {
	_, srv := newTestServer(t, "")

	var health map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &health))
	assert.Equal(t, "ok", health["status"])

	var status map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/status", &status))
	assert.Equal(t, "demo", status["mode"])
	assert.Greater(t, status["ai_domains"].(float64), 100.0)
}

func TestAlertsEndpoint(t *testing.T) {
	s, srv := newTestServer(t, "")
	s.buffer.Add(&alerts.Alert{ID: "SH-000001", Severity: alerts.SeverityHigh, Source: "192.168.1.10"})

	var body struct {
		Alerts []alerts.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/policy/alerts", &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "SH-000001", body.Alerts[0].ID)
}

func TestDiscoveryNodesAndEdges(t *testing.T) {
	s, srv := newTestServer(t, "")
	ctx := context.Background()
	require.NoError(t, s.store.AddEdge(ctx, "192.168.1.10", "13.107.42.14", graph.RelationTalksTo,
		map[string]interface{}{graph.PropByteCount: int64(5000), "protocol": "HTTPS"}))

	var nodes struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/discovery/nodes", &nodes))
	assert.Equal(t, 2, nodes.Count)

	var edges struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/discovery/edges", &edges))
	assert.Equal(t, 1, edges.Count)

	var stats map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/discovery/traffic-stats", &stats))
	assert.Equal(t, float64(2), stats["total_nodes"])
	assert.Equal(t, float64(5000), stats["total_bytes"])
}

func TestRiskScoresAggregation(t *testing.T) {
	s, srv := newTestServer(t, "")
	for i := 0; i < 3; i++ {
		s.buffer.Add(&alerts.Alert{ID: fmt.Sprintf("SH-%06d", i), Severity: alerts.SeverityCritical, Source: "192.168.1.66"})
	}
	s.buffer.Add(&alerts.Alert{ID: "SH-000099", Severity: alerts.SeverityLow, Source: "192.168.1.10"})

	var body struct {
		RiskScores []struct {
			Source    string `json:"source"`
			RiskScore int    `json:"risk_score"`
		} `json:"risk_scores"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/discovery/risk-scores", &body))
	require.Len(t, body.RiskScores, 2)
	assert.Equal(t, "192.168.1.66", body.RiskScores[0].Source)
	assert.Equal(t, 100, body.RiskScores[0].RiskScore)
	assert.Less(t, body.RiskScores[1].RiskScore, 100)
}

func TestPluginsEndpoint(t *testing.T) {
	_, srv := newTestServer(t, "")
	var body struct {
		Plugins []map[string]interface{} `json:"plugins"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/policy/plugins", &body))
	assert.Len(t, body.Plugins, 6)
}

// ============================================================================
// POLICY RULES CRUD
// ============================================================================

func TestRuleLifecycle(t *testing.T) {
	_, srv := newTestServer(t, "")

	var listed struct {
		Rules []Rule `json:"rules"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/policy/rules", &listed))
	seeded := len(listed.Rules)
	require.GreaterOrEqual(t, seeded, 4)

	// Create
	payload, _ := json.Marshal(Rule{Name: "Block test", Action: "block", Target: "ip:203.0.113.7"})
	resp, err := http.Post(srv.URL+"/v1/policy/rules", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	var created Rule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created.ID)

	// Toggle
	resp, err = http.Post(srv.URL+"/v1/policy/rules/"+created.ID+"/toggle", "application/json", nil)
	require.NoError(t, err)
	var toggled Rule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&toggled))
	resp.Body.Close()
	assert.NotEqual(t, created.Enabled, toggled.Enabled)

	// Delete
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/policy/rules/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/policy/rules", &listed))
	assert.Len(t, listed.Rules, seeded)
}

func TestCreateRuleValidation(t *testing.T) {
	_, srv := newTestServer(t, "")
	resp, err := http.Post(srv.URL+"/v1/policy/rules", "application/json",
		bytes.NewReader([]byte(`{"description": "no name or action"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ============================================================================
// RESPONSE SURFACE
// ============================================================================

func TestUnblockFlow(t *testing.T) {
	s, srv := newTestServer(t, "")
	s.respond.BlockIP("203.0.113.7", "test", "CRITICAL", "SH-000001", true)

	var blocked struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/response/blocked", &blocked))
	assert.Equal(t, 1, blocked.Count)

	resp, err := http.Post(srv.URL+"/v1/response/unblock", "application/json",
		bytes.NewReader([]byte(`{"ip": "203.0.113.7"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, s.respond.IsBlocked("203.0.113.7"))

	// Unblocking again is a 404.
	resp, err = http.Post(srv.URL+"/v1/response/unblock", "application/json",
		bytes.NewReader([]byte(`{"ip": "203.0.113.7"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ============================================================================
// AUTHENTICATION
// ============================================================================

func TestAPIKeyGuardsWrites(t *testing.T) {
	_, srv := newTestServer(t, "sekrit")

	// Reads stay open.
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/policy/alerts", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", nil))

	// Writes without the key are refused.
	resp, err := http.Post(srv.URL+"/v1/response/unblock", "application/json",
		bytes.NewReader([]byte(`{"ip": "203.0.113.7"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// With the key the request reaches the handler (404: nothing blocked).
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/response/unblock",
		bytes.NewReader([]byte(`{"ip": "203.0.113.7"}`)))
	req.Header.Set("X-API-Key", "sekrit")
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	_, srv := newTestServer(t, "sekrit")

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/v1/policy/rules", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

// ============================================================================
// REPORTING
// ============================================================================

func TestKillChainBucketsAlerts(t *testing.T) {
	s, srv := newTestServer(t, "")
	s.buffer.Add(&alerts.Alert{ID: "a", Severity: alerts.SeverityCritical,
		Description: "ATTACK TOOL DETECTED: Cobalt Strike Beacon"})
	s.buffer.Add(&alerts.Alert{ID: "b", Severity: alerts.SeverityHigh,
		Description: "Potential DNS Tunneling (Large DNS Payload)"})

	var body struct {
		Stages []struct {
			Stage string `json:"stage"`
			Count int    `json:"count"`
		} `json:"stages"`
		ChainCompletion int `json:"chain_completion"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/policy/killchain", &body))
	require.Len(t, body.Stages, 5)

	counts := map[string]int{}
	for _, st := range body.Stages {
		counts[st.Stage] = st.Count
	}
	assert.Equal(t, 1, counts["command_control"])
	assert.Equal(t, 1, counts["reconnaissance"]) // "dns" keyword
	assert.Equal(t, 40, body.ChainCompletion)
}

func TestReportSummarizes(t *testing.T) {
	s, srv := newTestServer(t, "")
	s.buffer.Add(&alerts.Alert{ID: "a", Severity: alerts.SeverityHigh, Source: "192.168.1.10",
		Target: "api.openai.com", Description: "Shadow AI Service Access: api.openai.com (LLM)"})

	var body map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/policy/report", &body))
	assert.Equal(t, float64(1), body["total_alerts"])
	assert.NotEmpty(t, body["recommendations"])
	assert.Len(t, body["shadow_ai_activity"], 1)
}
