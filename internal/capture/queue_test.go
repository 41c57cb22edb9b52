package capture

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPacket(t *testing.T) gopacket.Packet {
	t.Helper()
	// A minimal Ethernet frame is enough; the queue never inspects it.
	raw := make([]byte, 64)
	return gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.Default)
}

func TestTryEnqueueNeverBlocks(t *testing.T) {
	q := NewPacketQueue(2)
	pkt := testPacket(t)

	assert.True(t, q.TryEnqueue(pkt))
	assert.True(t, q.TryEnqueue(pkt))
	assert.Equal(t, 2, q.Len())

	// Full queue: immediate rejection, counted.
	assert.False(t, q.TryEnqueue(pkt))
	assert.False(t, q.TryEnqueue(pkt))
	assert.Equal(t, int64(2), q.Dropped())
	assert.Equal(t, 2, q.Len())
}

func TestDrainAfterClose(t *testing.T) {
	q := NewPacketQueue(4)
	pkt := testPacket(t)
	require.True(t, q.TryEnqueue(pkt))
	require.True(t, q.TryEnqueue(pkt))

	q.Close()

	drained := 0
	for range q.Packets() {
		drained++
	}
	assert.Equal(t, 2, drained)
}

func TestDefaultSize(t *testing.T) {
	q := NewPacketQueue(0)
	pkt := testPacket(t)
	for i := 0; i < defaultQueueSize; i++ {
		require.True(t, q.TryEnqueue(pkt))
	}
	assert.False(t, q.TryEnqueue(pkt))
	assert.Equal(t, int64(1), q.Dropped())
}
