// Package pipeline wires the analyzer: it subscribes to the traffic topic,
// runs the detector stack over each flow, enriches verdicts with intel, ML,
// and session context, and drives the probe, response, and broadcast
// stages in order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shadowhunter/backend/internal/alerts"
	"github.com/shadowhunter/backend/internal/bus"
	"github.com/shadowhunter/backend/internal/detect"
	"github.com/shadowhunter/backend/internal/graph"
	"github.com/shadowhunter/backend/internal/intel"
	"github.com/shadowhunter/backend/internal/ml"
	"github.com/shadowhunter/backend/internal/monitoring"
	"github.com/shadowhunter/backend/internal/probe"
	"github.com/shadowhunter/backend/internal/response"
	"github.com/shadowhunter/backend/internal/session"
	"github.com/shadowhunter/backend/internal/telemetry"
)

// Broadcaster fans serialized frames out to streaming clients.
type Broadcaster interface {
	Broadcast(frameType string, payload interface{})
}

// Frame types on the dashboard stream.
const (
	FrameAlert        = "alert"
	FrameAutoResponse = "auto_response"
)

// sessionEscalationThreshold is the session risk above which the enclosing
// alert is raised one severity step.
const sessionEscalationThreshold = 0.7

// Engine is the analyzer pipeline.
type Engine struct {
	bus       bus.Bus
	topic     string
	store     graph.Store
	detectors *detect.Registry
	scorer    *ml.Engine
	sessions  *session.Tracker
	prober    *probe.Interrogator
	responder *response.Manager
	cast      Broadcaster
	buffer    *alerts.Buffer
	metrics   *monitoring.Metrics
	cidr      *intel.CIDRMatcher
	ja3       *intel.JA3Matcher

	alertSeq   atomic.Int64
	unsubFuncs []func()
}

// Options carries the engine's collaborators. Bus, Topic, Store,
// Detectors, Sessions, Responder, Buffer, CIDR and JA3 are required;
// Scorer, Prober, Broadcast and Metrics may be nil.
type Options struct {
	Bus       bus.Bus
	Topic     string
	Store     graph.Store
	Detectors *detect.Registry
	Scorer    *ml.Engine
	Sessions  *session.Tracker
	Prober    *probe.Interrogator
	Responder *response.Manager
	Broadcast Broadcaster
	Buffer    *alerts.Buffer
	Metrics   *monitoring.Metrics
	CIDR      *intel.CIDRMatcher
	JA3       *intel.JA3Matcher
}

// NewEngine assembles the pipeline from its collaborators.
func NewEngine(opts Options) *Engine {
	return &Engine{
		bus:       opts.Bus,
		topic:     opts.Topic,
		store:     opts.Store,
		detectors: opts.Detectors,
		scorer:    opts.Scorer,
		sessions:  opts.Sessions,
		prober:    opts.Prober,
		responder: opts.Responder,
		cast:      opts.Broadcast,
		buffer:    opts.Buffer,
		metrics:   opts.Metrics,
		cidr:      opts.CIDR,
		ja3:       opts.JA3,
	}
}

// Subscribe attaches the graph writer and the analyzer to the traffic
// topic. The graph writer records topology for every flow, whitelisted or
// not; the analyzer produces alerts.
func (e *Engine) Subscribe() {
	e.unsubFuncs = append(e.unsubFuncs,
		e.bus.Subscribe(e.topic, e.handleGraph),
		e.bus.Subscribe(e.topic, e.handleFlow),
	)
	slog.Info("[Pipeline] Subscribed to traffic topic", "topic", e.topic)
}

// Unsubscribe detaches the pipeline from the bus.
func (e *Engine) Unsubscribe() {
	for _, unsub := range e.unsubFuncs {
		unsub()
	}
	e.unsubFuncs = nil
}

// handleGraph upserts both endpoints and the connecting edge for every
// observed flow.
func (e *Engine) handleGraph(ctx context.Context, event *telemetry.FlowEvent) error {
	now := alerts.Stamp(event.Timestamp)

	srcProps := map[string]interface{}{
		"node_type": e.nodeType(event.SourceIP, ""),
		"last_seen": now,
	}
	if err := e.store.AddNode(ctx, event.SourceIP, []string{"Host"}, srcProps); err != nil {
		return fmt.Errorf("upsert source node: %w", err)
	}

	dstType := e.nodeType(event.DestinationIP, event.HostOrQuery())
	dstLabels := []string{"Host"}
	dstProps := map[string]interface{}{
		"node_type": dstType,
		"last_seen": now,
	}
	if hostname := event.HostOrQuery(); hostname != "" {
		dstProps["hostname"] = hostname
	}
	if dstType == "shadow" {
		dstLabels = append(dstLabels, "AIService")
	}
	if err := e.store.AddNode(ctx, event.DestinationIP, dstLabels, dstProps); err != nil {
		return fmt.Errorf("upsert destination node: %w", err)
	}

	err := e.store.AddEdge(ctx, event.SourceIP, event.DestinationIP, graph.RelationTalksTo,
		map[string]interface{}{
			"protocol":          string(event.Protocol),
			"destination_port":  event.DestinationPort,
			graph.PropByteCount: event.TotalBytes(),
			"last_seen":         now,
		})
	if err != nil {
		return fmt.Errorf("upsert edge: %w", err)
	}
	return nil
}

// handleFlow is the analyzer: detection, enrichment, escalation, and the
// ordered probe/response/broadcast tail.
func (e *Engine) handleFlow(ctx context.Context, event *telemetry.FlowEvent) error {
	if detect.IsWhitelisted(event) {
		return nil
	}

	dstType := e.nodeType(event.DestinationIP, event.HostOrQuery())
	e.sessions.Record(event.SourceIP, event.DestinationIP, dstType, event.TotalBytes(), event.Timestamp)

	verdict := e.detectors.Evaluate(event)

	var assessment *ml.Assessment
	if e.scorer != nil && e.scorer.Enabled() {
		assessment = e.scorer.Assess(event)
		if !verdict.Anomalous {
			verdict = escalateFromML(assessment)
		}
	}
	if !verdict.Anomalous {
		return nil
	}

	alert := e.buildAlert(event, verdict)
	e.enrichIntel(alert, event)
	if assessment != nil {
		alert.MLClass = assessment.Class
		alert.MLConfidence = assessment.Confidence
		alert.MLRiskScore = assessment.RiskScore
	}
	e.enrichSession(alert, event)

	if e.prober != nil && e.prober.Enabled() &&
		(alert.Severity == alerts.SeverityCritical || alert.Severity == alerts.SeverityHigh) {
		e.runProbe(ctx, alert, event)
	}

	if e.responder != nil && alert.Severity == alerts.SeverityCritical {
		e.runResponse(alert)
	}

	e.publish(alert)
	return nil
}

// EmitFindings converts centrality findings into synthetic alerts. The
// graph analyzer calls this on its own timer-gated path.
func (e *Engine) EmitFindings(findings []graph.Finding) {
	for _, f := range findings {
		alert := &alerts.Alert{
			ID:          e.nextID(),
			Severity:    f.Severity,
			Description: f.RiskAssessment,
			Source:      f.NodeID,
			Target:      "network",
			Timestamp:   alerts.Stamp(time.Now()),
			MatchedRule: "graph_centrality_analysis",
			GraphCentrality: &alerts.GraphCentrality{
				CentralityScore: f.Score,
				Connections:     f.Connections,
				NodeType:        f.NodeType,
				ConnectedTo:     f.ConnectedTo,
			},
		}
		e.publish(alert)
	}
}

func (e *Engine) buildAlert(event *telemetry.FlowEvent, verdict detect.Verdict) *alerts.Alert {
	target := event.HostOrQuery()
	if target == "" {
		target = event.DestinationIP
	}
	return &alerts.Alert{
		ID:              e.nextID(),
		Severity:        verdict.Severity,
		Description:     verdict.Reason,
		Source:          event.SourceIP,
		Target:          target,
		Timestamp:       alerts.Stamp(event.Timestamp),
		Protocol:        string(event.Protocol),
		SourcePort:      event.SourcePort,
		DestinationPort: event.DestinationPort,
		BytesSent:       event.BytesSent,
		BytesReceived:   event.BytesReceived,
		MatchedRule:     verdict.Rule,
		DestinationIP:   event.DestinationIP,
	}
}

// enrichIntel attaches CIDR provenance and JA3 client intelligence.
func (e *Engine) enrichIntel(alert *alerts.Alert, event *telemetry.FlowEvent) {
	if match := e.cidr.Lookup(event.DestinationIP); match != nil {
		alert.CIDRMatch = &alerts.CIDRMatch{
			Provider:       match.Provider,
			Service:        match.Service,
			RiskLevel:      match.RiskLevel,
			Category:       match.Category,
			DataRisk:       match.DataRisk,
			ComplianceTags: match.ComplianceTags,
			CIDR:           match.CIDR,
		}
	}

	hash := event.Meta(telemetry.MetaJA3)
	if hash == "" {
		return
	}
	match := e.ja3.Lookup(hash)
	if match == nil {
		return
	}
	ja3Intel := &alerts.JA3Intel{
		JA3Hash:    hash,
		ClientName: match.ClientName,
		Category:   match.Category,
		RiskLevel:  match.RiskLevel,
		Tags:       match.Tags,
	}
	if spoof := e.ja3.DetectSpoofing(hash, event.Meta(telemetry.MetaUserAgent)); spoof != nil {
		ja3Intel.Spoofing = &alerts.Spoofing{
			Detected:    true,
			JA3Client:   spoof.JA3Client,
			JA3Category: spoof.JA3Category,
			ClaimedUA:   spoof.ClaimedUA,
			RiskLevel:   spoof.RiskLevel,
			Description: spoof.Description,
		}
	}
	alert.JA3Intel = ja3Intel
}

// enrichSession attaches behavioral context and escalates one step when
// the source's session risk crosses the threshold.
func (e *Engine) enrichSession(alert *alerts.Alert, event *telemetry.FlowEvent) {
	analysis := e.sessions.Analyze(event.SourceIP)
	if analysis == nil || len(analysis.Flags) == 0 {
		return
	}
	alert.SessionFlags = analysis.Flags
	alert.SessionRisk = analysis.RiskScore
	alert.ExfilVelocity = analysis.ExfilVelocityKBps

	if analysis.RiskScore > sessionEscalationThreshold {
		escalated := alert.Severity.Escalate()
		if escalated != alert.Severity {
			slog.Info("[Pipeline] Session risk escalation",
				"source", event.SourceIP, "risk", analysis.RiskScore,
				"from", alert.Severity, "to", escalated)
			alert.Severity = escalated
		}
	}
}

func (e *Engine) runProbe(ctx context.Context, alert *alerts.Alert, event *telemetry.FlowEvent) {
	target := event.HostOrQuery()
	if target == "" {
		target = event.DestinationIP
	}
	if detect.IsInternal(event.DestinationIP) {
		return
	}
	result := e.prober.Probe(ctx, target)
	alert.ActiveProbe = result
	if e.metrics != nil {
		e.metrics.RecordProbe(result.Skipped, result.ConfirmedAI)
	}
}

func (e *Engine) runResponse(alert *alerts.Alert) {
	result := e.responder.BlockIP(alert.Source, alert.Description, string(alert.Severity), alert.ID, true)
	alert.AutoResponse = result
	if e.metrics != nil {
		e.metrics.RecordBlock(result.Blocked)
	}
	if result.Blocked && e.cast != nil {
		e.cast.Broadcast(FrameAutoResponse, result)
	}
}

// publish finalizes the alert: buffer, metrics, log, broadcast. Alerts are
// immutable from here on.
func (e *Engine) publish(alert *alerts.Alert) {
	e.buffer.Add(alert)
	if e.metrics != nil {
		e.metrics.RecordAlert(string(alert.Severity))
	}
	slog.Info("[Pipeline] 🚨 Alert",
		"id", alert.ID, "severity", alert.Severity, "rule", alert.MatchedRule,
		"source", alert.Source, "target", alert.Target)
	if e.cast != nil {
		e.cast.Broadcast(FrameAlert, alert)
	}
}

func (e *Engine) nextID() string {
	return fmt.Sprintf("SH-%06d", e.alertSeq.Add(1))
}

// nodeType classifies an endpoint for graph and session purposes: known AI
// destinations are "shadow", perimeter addresses are "internal", the rest
// is "external".
func (e *Engine) nodeType(ip, hostname string) string {
	if hostname != "" && intel.IsAIDomain(hostname) {
		return "shadow"
	}
	if e.cidr.InAIRange(ip) {
		return "shadow"
	}
	if detect.IsInternal(ip) {
		return "internal"
	}
	return "external"
}

// escalateFromML maps an ML assessment to a verdict when no rule fired.
func escalateFromML(a *ml.Assessment) detect.Verdict {
	switch {
	case a.Class == ml.ClassShadowAI && a.Confidence > 0.70:
		return detect.Verdict{
			Anomalous: true,
			Severity:  alerts.SeverityHigh,
			Reason:    fmt.Sprintf("ML detected Shadow AI (%.0f%% confidence)", a.Confidence*100),
			Rule:      "ml_classifier",
		}
	case a.Class == ml.ClassSuspicious && a.Confidence > 0.80:
		return detect.Verdict{
			Anomalous: true,
			Severity:  alerts.SeverityMedium,
			Reason:    fmt.Sprintf("ML flagged suspicious traffic (%.0f%% confidence)", a.Confidence*100),
			Rule:      "ml_classifier",
		}
	case a.Anomalous:
		return detect.Verdict{
			Anomalous: true,
			Severity:  alerts.SeverityLow,
			Reason:    fmt.Sprintf("Anomalous traffic pattern (score %.3f)", a.AnomalyScore),
			Rule:      "ml_anomaly",
		}
	}
	return detect.Verdict{}
}
