package capture

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowhunter/backend/internal/bus"
	"github.com/shadowhunter/backend/internal/monitoring"
	"github.com/shadowhunter/backend/internal/telemetry"
)

// buildTCPPacket serializes a full Ethernet/IPv4/TCP frame carrying payload.
func buildTCPPacket(t *testing.T, srcIP, dstIP string, srcPort, dstPort int, payload []byte) gopacket.Packet {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(srcIP),
		DstIP:    net.ParseIP(dstIP),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		PSH:     true,
		ACK:     true,
		Window:  1024,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))

	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func TestDPIWorkerPublishesAndCountsFlows(t *testing.T) {
	b := bus.NewMemoryBus(10)
	defer b.Close()

	var mu sync.Mutex
	var got []*telemetry.FlowEvent
	b.Subscribe("sh.telemetry.traffic.v1", func(ctx context.Context, e *telemetry.FlowEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	})

	metrics := monitoring.NewMetrics()
	q := NewPacketQueue(10)
	w := NewDPIWorker(q, b, "sh.telemetry.traffic.v1", metrics)

	require.True(t, q.TryEnqueue(buildTCPPacket(t,
		"192.168.1.10", "198.51.100.10", 52000, 9999, []byte("hello"))))
	q.Close()
	w.Run(context.Background())
	w.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	event := got[0]
	mu.Unlock()
	assert.Equal(t, "192.168.1.10", event.SourceIP)
	assert.Equal(t, "198.51.100.10", event.DestinationIP)
	assert.Equal(t, 9999, event.DestinationPort)
	assert.Equal(t, telemetry.ProtocolTCP, event.Protocol)
	assert.Equal(t, int64(5), event.BytesSent)

	assert.Equal(t, int64(1), w.Processed())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FlowsProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsPublished))
}
