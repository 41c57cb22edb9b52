// Package telemetry defines the traffic event model shared by the capture
// layer, the event bus, and the analyzer pipeline.
package telemetry

import "time"

// Protocol classifies a flow at the highest layer DPI could establish.
// TCP and UDP are the base transports; HTTP, HTTPS and DNS are upgrades
// applied when payload inspection succeeds.
type Protocol string

const (
	ProtocolTCP   Protocol = "TCP"
	ProtocolUDP   Protocol = "UDP"
	ProtocolHTTP  Protocol = "HTTP"
	ProtocolHTTPS Protocol = "HTTPS"
	ProtocolDNS   Protocol = "DNS"
)

// Metadata keys recognized by downstream consumers. Producers may attach
// additional keys; consumers must preserve unknown keys untouched.
const (
	MetaHost      = "host"      // HTTP Host header
	MetaSNI       = "sni"       // TLS Client Hello server name
	MetaDNSQuery  = "dns_query" // DNS question name, trailing dot stripped
	MetaJA3       = "ja3_hash"  // TLS client fingerprint (MD5 hex)
	MetaUserAgent = "user_agent"
)

// FlowEvent is one observed flow sample. The capture layer emits one per
// inspected packet; bytes_sent carries the L4 payload length of that packet
// and bytes_received is zero (aggregation happens downstream). Synthetic
// producers may fill both directions.
type FlowEvent struct {
	SourceIP        string            `json:"source_ip"`
	DestinationIP   string            `json:"destination_ip"`
	SourcePort      int               `json:"source_port"`
	DestinationPort int               `json:"destination_port"`
	Protocol        Protocol          `json:"protocol"`
	BytesSent       int64             `json:"bytes_sent"`
	BytesReceived   int64             `json:"bytes_received"`
	Timestamp       time.Time         `json:"timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Meta returns the metadata value for key, or "" when absent.
func (e *FlowEvent) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// Hostname returns the HTTP Host header or, failing that, the TLS SNI.
// Feature extraction uses this narrower lookup.
func (e *FlowEvent) Hostname() string {
	if h := e.Meta(MetaHost); h != "" {
		return h
	}
	return e.Meta(MetaSNI)
}

// HostOrQuery returns the best hostname hint for the flow: Host header,
// then SNI, then the DNS question name. Node classification uses this.
func (e *FlowEvent) HostOrQuery() string {
	if h := e.Hostname(); h != "" {
		return h
	}
	return e.Meta(MetaDNSQuery)
}

// TotalBytes is the byte volume of the sample in both directions.
func (e *FlowEvent) TotalBytes() int64 {
	return e.BytesSent + e.BytesReceived
}
