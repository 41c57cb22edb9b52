package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/shadowhunter/backend/internal/alerts"
	"github.com/shadowhunter/backend/internal/detect"
)

// Analyzer defaults.
const (
	DefaultInterval       = 60 * time.Second
	DefaultThreshold      = 0.3
	DefaultMinConnections = 3

	historyCap     = 100
	neighborCap    = 20
	connectedToCap = 10
)

// infraNodes are well-known resolvers and gateways that legitimately sit on
// many paths. They never count as lateral-movement pivots; neither does any
// address ending in .1 (the conventional gateway octet).
var infraNodes = map[string]bool{
	"8.8.8.8":     true,
	"8.8.4.4":     true,
	"1.1.1.1":     true,
	"1.0.0.1":     true,
	"192.168.1.1": true,
	"192.168.0.1": true,
	"10.0.0.1":    true,
}

// Finding is one flagged pivot candidate from a centrality run.
type Finding struct {
	NodeID         string
	Score          float64
	Connections    int
	NodeType       string // internal, external, shadow, unknown
	ConnectedTo    []string
	RiskAssessment string
	Severity       alerts.Severity
}

// Analyzer periodically rebuilds the topology from the store and flags
// nodes whose betweenness centrality marks them as traffic bridges.
type Analyzer struct {
	store          Store
	interval       time.Duration
	threshold      float64
	minConnections int

	mu           sync.Mutex
	bridgeScores map[string]float64
	bridgeOrder  []string
	runs         int64
	lastFindings []Finding
}

// NewAnalyzer creates a centrality analyzer; zero values use the defaults.
func NewAnalyzer(store Store, interval time.Duration, threshold float64, minConnections int) *Analyzer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minConnections <= 0 {
		minConnections = DefaultMinConnections
	}
	return &Analyzer{
		store:          store,
		interval:       interval,
		threshold:      threshold,
		minConnections: minConnections,
		bridgeScores:   make(map[string]float64),
	}
}

// Run executes analysis on the configured interval until the context ends,
// passing each run's findings to onFindings.
func (a *Analyzer) Run(ctx context.Context, onFindings func([]Finding)) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	slog.Info("[Graph] 🕸 Centrality analyzer started", "interval", a.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("[Graph] Centrality analyzer stopped")
			return
		case <-ticker.C:
			findings, err := a.Analyze(ctx)
			if err != nil {
				slog.Warn("[Graph] Centrality run failed", "error", err)
				continue
			}
			if len(findings) > 0 && onFindings != nil {
				onFindings(findings)
			}
		}
	}
}

// Analyze runs one centrality pass. Graphs too small to have meaningful
// shortest paths are skipped.
func (a *Analyzer) Analyze(ctx context.Context) ([]Finding, error) {
	nodes, err := a.store.AllNodes(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := a.store.AllEdges(ctx)
	if err != nil {
		return nil, err
	}
	if !shouldAnalyze(len(nodes), len(edges)) {
		return nil, nil
	}

	a.mu.Lock()
	a.runs++
	a.mu.Unlock()

	// TALKS_TO records the initiating direction, but the channel carries
	// traffic both ways; the analysis graph gets reciprocal arcs so paths
	// route through bridges regardless of who connected first.
	g := simple.NewDirectedGraph()
	idFor := make(map[string]int64, len(nodes))
	nameFor := make(map[int64]string, len(nodes))
	next := int64(0)
	intern := func(name string) int64 {
		if id, ok := idFor[name]; ok {
			return id
		}
		id := next
		next++
		idFor[name] = id
		nameFor[id] = name
		g.AddNode(simple.Node(id))
		return id
	}

	typeFor := make(map[string]string, len(nodes))
	for _, n := range nodes {
		intern(n.ID)
		if t, ok := n.Properties["node_type"].(string); ok {
			typeFor[n.ID] = t
		}
	}

	neighbors := make(map[string]map[string]bool)
	link := func(from, to string) {
		if neighbors[from] == nil {
			neighbors[from] = make(map[string]bool)
		}
		neighbors[from][to] = true
	}
	for _, e := range edges {
		if e.Source == e.Target {
			continue
		}
		src, tgt := intern(e.Source), intern(e.Target)
		g.SetEdge(simple.Edge{F: simple.Node(src), T: simple.Node(tgt)})
		g.SetEdge(simple.Edge{F: simple.Node(tgt), T: simple.Node(src)})
		link(e.Source, e.Target)
		link(e.Target, e.Source)
	}

	n := len(idFor)
	norm := 1.0
	if n > 2 {
		norm = 1.0 / float64((n-1)*(n-2))
	}

	scores := network.Betweenness(g)
	var findings []Finding
	for id, raw := range scores {
		name := nameFor[id]
		score := raw * norm
		degree := len(neighbors[name])
		if !a.shouldFlag(name, score, degree) {
			continue
		}
		findings = append(findings, a.buildFinding(name, score, neighbors[name], typeFor))
	}

	a.mu.Lock()
	a.lastFindings = findings
	a.mu.Unlock()
	return findings, nil
}

// shouldAnalyze gates runs on graph size: below 3 nodes and 2 edges no
// node can sit between anything.
func shouldAnalyze(nodes, edges int) bool {
	return nodes >= 3 && edges >= 2
}

// shouldFlag applies the centrality threshold, the degree floor, and the
// infrastructure exclusion.
func (a *Analyzer) shouldFlag(id string, score float64, degree int) bool {
	if score < a.threshold || degree < a.minConnections {
		return false
	}
	if infraNodes[id] || strings.HasSuffix(id, ".1") {
		return false
	}
	return true
}

func (a *Analyzer) buildFinding(name string, score float64, neighborSet map[string]bool, typeFor map[string]string) Finding {
	var neighborList []string
	for nb := range neighborSet {
		neighborList = append(neighborList, nb)
		if len(neighborList) >= neighborCap {
			break
		}
	}

	hasInternal, hasExternal := false, false
	for _, nb := range neighborList {
		if nodeIsInternal(nb, typeFor[nb]) {
			hasInternal = true
		} else {
			hasExternal = true
		}
	}

	connections := len(neighborSet)
	nodeType := typeFor[name]
	if nodeType == "" {
		if nodeIsInternal(name, "") {
			nodeType = "internal"
		} else {
			nodeType = "external"
		}
	}

	var severity alerts.Severity
	var risk string
	switch {
	case hasInternal && hasExternal:
		severity = alerts.SeverityHigh
		risk = fmt.Sprintf("HIGH RISK: Node %s (centrality=%.2f) bridges internal and external networks with %d connections — potential lateral movement pivot point",
			name, score, connections)
	case hasInternal:
		severity = alerts.SeverityMedium
		risk = fmt.Sprintf("MEDIUM RISK: Internal node %s (centrality=%.2f) has unusually high centrality with %d connections — monitor for compromise indicators",
			name, score, connections)
	default:
		severity = alerts.SeverityLow
		risk = fmt.Sprintf("INFO: External node %s (centrality=%.2f) acts as a hub with %d connections",
			name, score, connections)
	}

	connectedTo := neighborList
	if len(connectedTo) > connectedToCap {
		connectedTo = connectedTo[:connectedToCap]
	}

	a.recordBridge(name, score)

	return Finding{
		NodeID:         name,
		Score:          score,
		Connections:    connections,
		NodeType:       nodeType,
		ConnectedTo:    connectedTo,
		RiskAssessment: risk,
		Severity:       severity,
	}
}

// recordBridge tracks per-node scores across runs, logging new bridges and
// escalations of 20% or more.
func (a *Analyzer) recordBridge(name string, score float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, known := a.bridgeScores[name]
	if !known {
		if len(a.bridgeOrder) >= historyCap {
			oldest := a.bridgeOrder[0]
			a.bridgeOrder = a.bridgeOrder[1:]
			delete(a.bridgeScores, oldest)
		}
		a.bridgeOrder = append(a.bridgeOrder, name)
		slog.Info("[Graph] New bridge node detected", "node", name, "centrality", score)
	} else if prev > 0 && score >= prev*1.2 {
		slog.Warn("[Graph] Bridge escalation", "node", name, "previous", prev, "current", score)
	}
	a.bridgeScores[name] = score
}

// Bridges summarizes the tracked bridge nodes for dashboards, highest
// score first, capped at 10.
func (a *Analyzer) Bridges() []map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(a.bridgeScores))
	for _, name := range a.bridgeOrder {
		out = append(out, map[string]interface{}{
			"node":       name,
			"centrality": a.bridgeScores[name],
		})
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j]["centrality"].(float64) > out[i]["centrality"].(float64) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// Runs reports how many analysis passes have executed.
func (a *Analyzer) Runs() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs
}

// nodeIsInternal classifies a node by its stored type when present, falling
// back to the address prefix.
func nodeIsInternal(id, nodeType string) bool {
	switch nodeType {
	case "internal":
		return true
	case "external", "shadow":
		return false
	}
	return detect.IsInternal(id)
}
