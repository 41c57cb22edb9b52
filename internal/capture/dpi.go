package capture

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/shadowhunter/backend/internal/bus"
	"github.com/shadowhunter/backend/internal/monitoring"
	"github.com/shadowhunter/backend/internal/telemetry"
)

// DPIWorker drains the packet queue, inspects payloads, and publishes flow
// events. A single worker preserves per-source ordering; deployments that
// add workers must shard the queue by source IP.
type DPIWorker struct {
	queue     *PacketQueue
	bus       bus.Bus
	topic     string
	metrics   *monitoring.Metrics
	processed atomic.Int64
	done      chan struct{}
}

// NewDPIWorker wires the worker between a queue and the event bus.
// metrics may be nil.
func NewDPIWorker(queue *PacketQueue, b bus.Bus, topic string, metrics *monitoring.Metrics) *DPIWorker {
	return &DPIWorker{
		queue:   queue,
		bus:     b,
		topic:   topic,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Run drains the queue until it is closed. Parse failures are swallowed
// per packet; the loop never stops on bad input.
func (w *DPIWorker) Run(ctx context.Context) {
	defer close(w.done)
	slog.Info("[DPI] Worker started, draining packet queue")

	for pkt := range w.queue.Packets() {
		event := w.Inspect(pkt)
		if event == nil {
			continue
		}
		w.processed.Add(1)
		if w.metrics != nil {
			w.metrics.FlowsProcessed.Inc()
		}
		if err := w.bus.Publish(ctx, w.topic, event); err != nil {
			slog.Warn("[DPI] Publish failed", "error", err)
			continue
		}
		if w.metrics != nil {
			w.metrics.EventsPublished.Inc()
		}
	}

	slog.Info("[DPI] Worker stopped", "processed", w.processed.Load())
}

// Wait blocks until the worker has drained and exited.
func (w *DPIWorker) Wait() {
	<-w.done
}

// Processed reports how many packets became flow events.
func (w *DPIWorker) Processed() int64 {
	return w.processed.Load()
}

// Inspect turns a captured packet into a FlowEvent, or nil for non-IP and
// ICMP traffic. L7 upgrades are best-effort: any parse error leaves the
// event at its base protocol.
func (w *DPIWorker) Inspect(pkt gopacket.Packet) *telemetry.FlowEvent {
	var srcIP, dstIP string
	if ip4Layer := pkt.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
		ip4 := ip4Layer.(*layers.IPv4)
		srcIP = ip4.SrcIP.String()
		dstIP = ip4.DstIP.String()
	} else if ip6Layer := pkt.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		ip6 := ip6Layer.(*layers.IPv6)
		srcIP = ip6.SrcIP.String()
		dstIP = ip6.DstIP.String()
	} else {
		return nil
	}

	var (
		protocol   telemetry.Protocol
		srcPort    int
		dstPort    int
		payloadLen int
		metadata   = map[string]string{}
	)

	switch {
	case pkt.Layer(layers.LayerTypeTCP) != nil:
		tcp := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
		protocol = telemetry.ProtocolTCP
		srcPort = int(tcp.SrcPort)
		dstPort = int(tcp.DstPort)
		payload := tcp.LayerPayload()
		payloadLen = len(payload)

		if dstPort == 80 && payloadLen > 0 {
			if host := extractHTTPHost(payload); host != "" {
				metadata[telemetry.MetaHost] = host
				protocol = telemetry.ProtocolHTTP
			}
		} else if dstPort == 443 && payloadLen > 0 {
			protocol = telemetry.ProtocolHTTPS
			if hello, err := parseClientHello(payload); err == nil {
				if hello.SNI != "" {
					metadata[telemetry.MetaSNI] = hello.SNI
				}
				if hello.JA3 != "" {
					metadata[telemetry.MetaJA3] = hello.JA3
				}
			}
		}

	case pkt.Layer(layers.LayerTypeUDP) != nil:
		udp := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		protocol = telemetry.ProtocolUDP
		srcPort = int(udp.SrcPort)
		dstPort = int(udp.DstPort)
		payloadLen = len(udp.LayerPayload())

		if dnsLayer := pkt.Layer(layers.LayerTypeDNS); dnsLayer != nil {
			dns := dnsLayer.(*layers.DNS)
			if len(dns.Questions) > 0 {
				query := strings.TrimSuffix(string(dns.Questions[0].Name), ".")
				metadata[telemetry.MetaDNSQuery] = query
				protocol = telemetry.ProtocolDNS
			}
		}

	default:
		// ICMP and other transports carry no flow semantics here.
		return nil
	}

	ts := time.Now()
	if md := pkt.Metadata(); md != nil && !md.Timestamp.IsZero() {
		ts = md.Timestamp
	}

	return &telemetry.FlowEvent{
		SourceIP:        srcIP,
		DestinationIP:   dstIP,
		SourcePort:      srcPort,
		DestinationPort: dstPort,
		Protocol:        protocol,
		BytesSent:       int64(payloadLen),
		BytesReceived:   0,
		Timestamp:       ts,
		Metadata:        metadata,
	}
}

// extractHTTPHost scans up to the first 1024 bytes of an HTTP request for
// a Host header.
func extractHTTPHost(payload []byte) string {
	if len(payload) > 1024 {
		payload = payload[:1024]
	}
	for _, line := range strings.Split(string(payload), "\r\n") {
		if strings.HasPrefix(strings.ToLower(line), "host:") {
			return strings.TrimSpace(line[len("host:"):])
		}
	}
	return ""
}
