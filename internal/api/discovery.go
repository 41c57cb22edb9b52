package api

import (
	"net/http"
	"sort"

	"github.com/shadowhunter/backend/internal/alerts"
	"github.com/shadowhunter/backend/internal/graph"
)

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.store.AllNodes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if nodes == nil {
		nodes = []*graph.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"count": len(nodes),
	})
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	edges, err := s.store.AllEdges(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if edges == nil {
		edges = []*graph.Edge{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"edges": edges,
		"count": len(edges),
	})
}

// severityWeights drive the per-source risk aggregation.
var severityWeights = map[alerts.Severity]int{
	alerts.SeverityLow:      1,
	alerts.SeverityMedium:   2,
	alerts.SeverityHigh:     3,
	alerts.SeverityCritical: 4,
}

// handleRiskScores aggregates buffered alerts into per-source risk,
// normalized to 0-100 against the riskiest source, top 20.
func (s *Server) handleRiskScores(w http.ResponseWriter, r *http.Request) {
	weights := make(map[string]int)
	counts := make(map[string]int)
	for _, a := range s.buffer.All() {
		weights[a.Source] += severityWeights[a.Severity]
		counts[a.Source]++
	}

	maxWeight := 0
	for _, wgt := range weights {
		if wgt > maxWeight {
			maxWeight = wgt
		}
	}

	type riskEntry struct {
		Source     string `json:"source"`
		RiskScore  int    `json:"risk_score"`
		AlertCount int    `json:"alert_count"`
	}
	scores := make([]riskEntry, 0, len(weights))
	for src, wgt := range weights {
		score := 0
		if maxWeight > 0 {
			score = wgt * 100 / maxWeight
		}
		scores = append(scores, riskEntry{Source: src, RiskScore: score, AlertCount: counts[src]})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].RiskScore != scores[j].RiskScore {
			return scores[i].RiskScore > scores[j].RiskScore
		}
		return scores[i].Source < scores[j].Source
	})
	if len(scores) > 20 {
		scores = scores[:20]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"risk_scores": scores})
}

// handleTrafficStats summarizes the stored topology and the alert buffer
// for the dashboard overview.
func (s *Server) handleTrafficStats(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.store.AllNodes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	edges, err := s.store.AllEdges(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	protocols := map[string]int{}
	var totalBytes float64
	type dstVolume struct {
		Target string  `json:"target"`
		Bytes  float64 `json:"bytes"`
	}
	byDst := map[string]float64{}
	for _, e := range edges {
		if p, ok := e.Properties["protocol"].(string); ok {
			protocols[p]++
		}
		b := toFloat(e.Properties[graph.PropByteCount])
		totalBytes += b
		byDst[e.Target] += b
	}

	topDsts := make([]dstVolume, 0, len(byDst))
	for t, b := range byDst {
		topDsts = append(topDsts, dstVolume{Target: t, Bytes: b})
	}
	sort.Slice(topDsts, func(i, j int) bool {
		if topDsts[i].Bytes != topDsts[j].Bytes {
			return topDsts[i].Bytes > topDsts[j].Bytes
		}
		return topDsts[i].Target < topDsts[j].Target
	})
	if len(topDsts) > 10 {
		topDsts = topDsts[:10]
	}

	nodeTypes := map[string]int{}
	for _, n := range nodes {
		if t, ok := n.Properties["node_type"].(string); ok {
			nodeTypes[t]++
		} else {
			nodeTypes["unknown"]++
		}
	}

	severities := map[string]int{}
	for _, a := range s.buffer.All() {
		severities[string(a.Severity)]++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_nodes":           len(nodes),
		"total_edges":           len(edges),
		"total_bytes":           totalBytes,
		"protocol_distribution": protocols,
		"node_types":            nodeTypes,
		"severity_distribution": severities,
		"top_destinations":      topDsts,
	})
}

// handleTopology reports the tracked bridge nodes for the graph view.
func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bridges":         s.analyzer.Bridges(),
		"centrality_runs": s.analyzer.Runs(),
	})
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
