// Package alerts holds the alert model produced by the analyzer pipeline
// and the bounded buffer the control plane serves it from. Alert JSON field
// names are a wire contract consumed by dashboards; changing them breaks
// clients.
package alerts

import (
	"time"

	"github.com/shadowhunter/backend/internal/probe"
	"github.com/shadowhunter/backend/internal/response"
)

// Severity grades an alert. Ordering is LOW < MEDIUM < HIGH < CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric order of the severity; unknown values rank 0.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Escalate returns the severity one step up, capped at CRITICAL.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	case SeverityHigh, SeverityCritical:
		return SeverityCritical
	default:
		return s
	}
}

// MaxSeverity returns the higher-ranked of a and b. Ties keep a, so callers
// iterating in registration order keep the first winner.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// CIDRMatch enriches an alert whose destination fell inside a known
// AI-provider network range.
type CIDRMatch struct {
	Provider       string   `json:"provider"`
	Service        string   `json:"service"`
	RiskLevel      string   `json:"risk_level"`
	Category       string   `json:"category"`
	DataRisk       string   `json:"data_risk"`
	ComplianceTags []string `json:"compliance_tags"`
	CIDR           string   `json:"cidr"`
}

// Spoofing reports a mismatch between the claimed User-Agent and the TLS
// client fingerprint.
type Spoofing struct {
	Detected    bool   `json:"spoofing_detected"`
	JA3Client   string `json:"ja3_client"`
	JA3Category string `json:"ja3_category"`
	ClaimedUA   string `json:"claimed_ua"`
	RiskLevel   string `json:"risk_level"`
	Description string `json:"description"`
}

// JA3Intel enriches an alert with TLS fingerprint intelligence.
type JA3Intel struct {
	JA3Hash    string    `json:"ja3_hash"`
	ClientName string    `json:"client_name,omitempty"`
	Category   string    `json:"category,omitempty"`
	RiskLevel  string    `json:"risk_level,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Spoofing   *Spoofing `json:"spoofing,omitempty"`
}

// GraphCentrality enriches a synthetic lateral-movement alert.
type GraphCentrality struct {
	CentralityScore float64  `json:"centrality_score"`
	Connections     int      `json:"connections"`
	NodeType        string   `json:"node_type"`
	ConnectedTo     []string `json:"connected_to"`
}

// Alert is the enriched detection record. Core fields are always present;
// enrichment blocks are attached when the corresponding stage produced one.
type Alert struct {
	ID              string   `json:"id"`
	Severity        Severity `json:"severity"`
	Description     string   `json:"description"`
	Source          string   `json:"source"`
	Target          string   `json:"target"`
	Timestamp       string   `json:"timestamp"`
	Protocol        string   `json:"protocol,omitempty"`
	SourcePort      int      `json:"source_port,omitempty"`
	DestinationPort int      `json:"destination_port,omitempty"`
	BytesSent       int64    `json:"bytes_sent,omitempty"`
	BytesReceived   int64    `json:"bytes_received,omitempty"`
	MatchedRule     string   `json:"matched_rule"`
	DestinationIP   string   `json:"destination_ip,omitempty"`

	CIDRMatch       *CIDRMatch            `json:"cidr_match,omitempty"`
	JA3Intel        *JA3Intel             `json:"ja3_intel,omitempty"`
	MLClass         string                `json:"ml_classification,omitempty"`
	MLConfidence    float64               `json:"ml_confidence,omitempty"`
	MLRiskScore     float64               `json:"ml_risk_score,omitempty"`
	SessionFlags    []string              `json:"session_flags,omitempty"`
	SessionRisk     float64               `json:"session_risk,omitempty"`
	ExfilVelocity   float64               `json:"exfil_velocity_kbps,omitempty"`
	ActiveProbe     *probe.Result         `json:"active_probe,omitempty"`
	AutoResponse    *response.BlockResult `json:"auto_response,omitempty"`
	GraphCentrality *GraphCentrality      `json:"graph_centrality,omitempty"`
}

// Stamp formats timestamps the way alerts carry them.
func Stamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
