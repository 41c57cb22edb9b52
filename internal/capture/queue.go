package capture

import (
	"sync/atomic"

	"github.com/google/gopacket"
)

// defaultQueueSize bounds the capture-to-DPI buffer when the config does
// not override it.
const defaultQueueSize = 1000

// PacketQueue decouples the capture loop from DPI. Enqueue never blocks:
// when the buffer is full the packet is shed and counted, keeping the
// capture goroutine at line rate.
type PacketQueue struct {
	ch      chan gopacket.Packet
	dropped atomic.Int64
}

// NewPacketQueue creates a bounded queue; size <= 0 uses the default.
func NewPacketQueue(size int) *PacketQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &PacketQueue{ch: make(chan gopacket.Packet, size)}
}

// TryEnqueue offers a packet to the queue. Returns false when the queue is
// full; the packet is dropped and counted.
func (q *PacketQueue) TryEnqueue(pkt gopacket.Packet) bool {
	select {
	case q.ch <- pkt:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Packets exposes the consumer side of the queue.
func (q *PacketQueue) Packets() <-chan gopacket.Packet {
	return q.ch
}

// Close ends the queue; the DPI worker drains what remains and exits.
func (q *PacketQueue) Close() {
	close(q.ch)
}

// Dropped reports how many packets were shed on enqueue.
func (q *PacketQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Len reports the current queue depth.
func (q *PacketQueue) Len() int {
	return len(q.ch)
}
