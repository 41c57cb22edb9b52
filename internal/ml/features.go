// Package ml scores flow events with an unsupervised anomaly detector and a
// supervised traffic classifier. Both consume the same fixed 16-dimension
// feature vector and fall back to heuristics when no trained artifact is
// available or the artifact disagrees on dimensionality.
package ml

import (
	"math"
	"strings"

	"github.com/shadowhunter/backend/internal/telemetry"
)

// FeatureCount is the vector width both models are trained against.
// Artifacts declaring a different width are rejected at load time and the
// scorers degrade to their heuristics.
const FeatureCount = 16

var protocolIDs = map[telemetry.Protocol]float64{
	telemetry.ProtocolTCP:   0,
	telemetry.ProtocolUDP:   1,
	telemetry.ProtocolHTTP:  2,
	telemetry.ProtocolHTTPS: 3,
	telemetry.ProtocolDNS:   4,
}

// mlInternalPrefixes is the wide RFC1918 view used for feature extraction.
// The detectors use a narrower deployment-specific set; the models were
// trained with the full private ranges, so extraction must match training.
var mlInternalPrefixes = []string{
	"192.168.", "10.", "127.",
	"172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.",
	"172.22.", "172.23.", "172.24.", "172.25.", "172.26.", "172.27.",
	"172.28.", "172.29.", "172.30.", "172.31.",
}

// portCategories buckets destination ports into six service families. The
// feature value is (index+1)/6; unknown ports score 0.
var portCategories = []struct {
	name  string
	ports map[int]bool
}{
	{"web", map[int]bool{80: true, 443: true, 8080: true, 8443: true, 8000: true, 3000: true, 5000: true}},
	{"mail", map[int]bool{25: true, 110: true, 143: true, 465: true, 587: true, 993: true, 995: true}},
	{"dns", map[int]bool{53: true}},
	{"remote", map[int]bool{22: true, 23: true, 3389: true, 5900: true}},
	{"database", map[int]bool{1433: true, 3306: true, 5432: true, 6379: true, 27017: true}},
	{"file_transfer", map[int]bool{20: true, 21: true, 69: true, 139: true, 445: true}},
}

// apiPorts are ports AI/SaaS APIs are typically served on.
var apiPorts = map[int]bool{443: true, 8080: true, 8443: true, 3000: true, 5000: true, 8000: true}

// payloadThresholds bucket total flow volume into {0, .25, .5, .75, 1}.
var payloadThresholds = []int64{1_000, 10_000, 100_000, 1_000_000}

// CIDRLookup reports whether an IP falls inside a known AI-provider block.
type CIDRLookup interface {
	InAIRange(ip string) bool
}

// Extractor turns flow events into model input vectors.
type Extractor struct {
	cidr CIDRLookup
}

// NewExtractor builds an extractor; cidr may be nil, zeroing feature 16.
func NewExtractor(cidr CIDRLookup) *Extractor {
	return &Extractor{cidr: cidr}
}

// Extract computes the 16-dimension feature vector. Order and semantics are
// frozen: the trained artifacts index positionally.
func (x *Extractor) Extract(e *telemetry.FlowEvent) []float64 {
	f := make([]float64, FeatureCount)

	// 1: protocol enum
	if id, ok := protocolIDs[e.Protocol]; ok {
		f[0] = id
	} else {
		f[0] = -1
	}

	// 2: normalized destination port
	f[1] = float64(e.DestinationPort) / 65535.0

	// 3-4: log-scaled volumes
	f[2] = math.Log1p(float64(e.BytesSent))
	f[3] = math.Log1p(float64(e.BytesReceived))

	// 5: outbound share
	total := e.BytesSent + e.BytesReceived
	if total < 1 {
		total = 1
	}
	f[4] = float64(e.BytesSent) / float64(total)

	// 6-7: perimeter membership
	f[5] = boolFeature(isMLInternal(e.SourceIP))
	f[6] = boolFeature(isMLInternal(e.DestinationIP))

	// 8: well-known port
	f[7] = boolFeature(e.DestinationPort < 1024)

	// 9: port service family
	for i, cat := range portCategories {
		if cat.ports[e.DestinationPort] {
			f[8] = float64(i+1) / float64(len(portCategories))
			break
		}
	}

	// 10-12: hostname shape
	hostname := e.Hostname()
	f[9] = boolFeature(hostname != "")
	f[10] = float64(len(hostname)) / 100.0
	f[11] = float64(strings.Count(hostname, "."))

	// 13: hour of day
	f[12] = float64(e.Timestamp.Hour()) / 23.0

	// 14: API-typical port
	f[13] = boolFeature(apiPorts[e.DestinationPort])

	// 15: payload bucket
	f[14] = payloadBucket(total)

	// 16: AI provider network
	if x.cidr != nil {
		f[15] = boolFeature(x.cidr.InAIRange(e.DestinationIP))
	}

	return f
}

func payloadBucket(total int64) float64 {
	bucket := 0
	for _, th := range payloadThresholds {
		if total > th {
			bucket++
		}
	}
	return float64(bucket) / float64(len(payloadThresholds))
}

func isMLInternal(ip string) bool {
	for _, p := range mlInternalPrefixes {
		if strings.HasPrefix(ip, p) {
			return true
		}
	}
	return false
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
