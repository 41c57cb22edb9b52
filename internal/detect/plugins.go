package detect

import (
	"fmt"

	"github.com/shadowhunter/backend/internal/alerts"
	"github.com/shadowhunter/backend/internal/intel"
	"github.com/shadowhunter/backend/internal/telemetry"
)

// Plugin is one detection heuristic. Detect is a pure function of the
// event: no state, no I/O, no side effects.
type Plugin interface {
	Name() string
	Detect(e *telemetry.FlowEvent) (bool, alerts.Severity, string)
}

// Canonical plugin names. matched_rule on emitted alerts carries these.
const (
	PluginAIDomain     = "ai_domain_detector"
	PluginUnusualPort  = "unusual_port_detector"
	PluginDNSTunneling = "dns_tunneling_detector"
	PluginExfiltration = "data_exfiltration_detector"
	PluginCIDRIntel    = "cidr_intel_detector"
	PluginJA3          = "ja3_fingerprint_detector"
)

// Detection thresholds.
const (
	// dnsTunnelBytes is the payload size above which a DNS query is
	// suspected of carrying tunneled data.
	dnsTunnelBytes = 500
	// exfilBytes is the outbound volume above which a single flow sample
	// is treated as bulk exfiltration.
	exfilBytes = 500000
)

// expectedEgressPorts are destination ports internal hosts legitimately
// reach external services on.
var expectedEgressPorts = map[int]bool{
	22: true, 53: true, 80: true, 443: true, 465: true, 587: true,
	993: true, 995: true, 3389: true, 8080: true, 8443: true,
}

// AIDomainPlugin flags flows whose hostname resolves to a known AI service.
type AIDomainPlugin struct{}

func (AIDomainPlugin) Name() string { return PluginAIDomain }

func (AIDomainPlugin) Detect(e *telemetry.FlowEvent) (bool, alerts.Severity, string) {
	domain := e.HostOrQuery()
	if domain == "" {
		return false, "", ""
	}
	category, ok := intel.AICategory(domain)
	if !ok {
		return false, "", ""
	}
	return true, alerts.SeverityHigh,
		fmt.Sprintf("Shadow AI Service Access: %s (%s)", domain, category)
}

// UnusualPortPlugin flags egress on ports outside the expected service set.
type UnusualPortPlugin struct{}

func (UnusualPortPlugin) Name() string { return PluginUnusualPort }

func (UnusualPortPlugin) Detect(e *telemetry.FlowEvent) (bool, alerts.Severity, string) {
	if !IsInternal(e.SourceIP) || IsInternal(e.DestinationIP) {
		return false, "", ""
	}
	if expectedEgressPorts[e.DestinationPort] {
		return false, "", ""
	}
	return true, alerts.SeverityMedium,
		fmt.Sprintf("Unusual Outbound Port: %d", e.DestinationPort)
}

// DNSTunnelingPlugin flags oversized DNS payloads.
type DNSTunnelingPlugin struct{}

func (DNSTunnelingPlugin) Name() string { return PluginDNSTunneling }

func (DNSTunnelingPlugin) Detect(e *telemetry.FlowEvent) (bool, alerts.Severity, string) {
	if e.Protocol != telemetry.ProtocolDNS || e.BytesSent <= dnsTunnelBytes {
		return false, "", ""
	}
	return true, alerts.SeverityHigh, "Potential DNS Tunneling (Large DNS Payload)"
}

// ExfiltrationPlugin flags bulk outbound transfers to external hosts.
type ExfiltrationPlugin struct{}

func (ExfiltrationPlugin) Name() string { return PluginExfiltration }

func (ExfiltrationPlugin) Detect(e *telemetry.FlowEvent) (bool, alerts.Severity, string) {
	if !IsInternal(e.SourceIP) || IsInternal(e.DestinationIP) {
		return false, "", ""
	}
	if e.BytesSent <= exfilBytes {
		return false, "", ""
	}
	return true, alerts.SeverityHigh,
		fmt.Sprintf("Potential Data Exfiltration: %d bytes outbound", e.BytesSent)
}

// CIDRIntelPlugin flags destinations inside known AI-provider networks.
// The verdict grades at most HIGH: a provider-network hit says where the
// flow went, not that the client is hostile, and the entry's full risk
// level still reaches the alert through the cidr_match enrichment. Only
// attack-tool fingerprints escalate a flow to CRITICAL.
type CIDRIntelPlugin struct {
	Matcher *intel.CIDRMatcher
}

func (CIDRIntelPlugin) Name() string { return PluginCIDRIntel }

func (p CIDRIntelPlugin) Detect(e *telemetry.FlowEvent) (bool, alerts.Severity, string) {
	match := p.Matcher.Lookup(e.DestinationIP)
	if match == nil {
		return false, "", ""
	}

	severity := alerts.SeverityMedium
	if match.RiskLevel == "CRITICAL" || match.RiskLevel == "HIGH" {
		severity = alerts.SeverityHigh
	}
	return true, severity,
		fmt.Sprintf("AI Provider Network Access: %s — %s (%s)", match.Provider, match.Service, match.CIDR)
}

// JA3Plugin grades flows by TLS client fingerprint: known attack tooling is
// CRITICAL, a browser-claiming User-Agent over a non-browser fingerprint is
// HIGH, and any other known non-browser client is MEDIUM.
type JA3Plugin struct {
	Matcher *intel.JA3Matcher
}

func (JA3Plugin) Name() string { return PluginJA3 }

func (p JA3Plugin) Detect(e *telemetry.FlowEvent) (bool, alerts.Severity, string) {
	hash := e.Meta(telemetry.MetaJA3)
	if hash == "" {
		return false, "", ""
	}
	match := p.Matcher.Lookup(hash)
	if match == nil {
		return false, "", ""
	}

	if match.Category == "attack_tool" {
		return true, alerts.SeverityCritical,
			fmt.Sprintf("ATTACK TOOL DETECTED: %s — %s", match.ClientName, match.Description)
	}

	if spoof := p.Matcher.DetectSpoofing(hash, e.Meta(telemetry.MetaUserAgent)); spoof != nil {
		return true, alerts.SeverityHigh,
			fmt.Sprintf("Client Spoofing: %s masquerading as a browser", match.ClientName)
	}

	if match.Category != "browser" {
		return true, alerts.SeverityMedium,
			fmt.Sprintf("Non-Browser Client: %s (%s)", match.ClientName, match.Category)
	}
	return false, "", ""
}
