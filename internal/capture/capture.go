// Package capture acquires raw packets from a network interface, shields
// the capture loop behind a bounded queue, and runs deep packet inspection
// to turn packets into flow events.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/shadowhunter/backend/internal/monitoring"
)

const (
	snapLen = 65536 // max Ethernet frame
	// kernelBufferMB sizes the pcap ring to absorb bursts before the
	// queue even sees them.
	kernelBufferMB = 32
)

// Engine owns the pcap handle and the capture goroutine. The goroutine
// never blocks: packets go into the bounded queue or are dropped.
type Engine struct {
	iface    string
	handle   *pcap.Handle
	source   *gopacket.PacketSource
	queue    *PacketQueue
	metrics  *monitoring.Metrics
	captured atomic.Int64
	running  atomic.Bool
}

// NewEngine opens a live capture on iface. An empty iface captures on all
// interfaces via the "any" pseudo-device. metrics may be nil.
func NewEngine(iface string, queue *PacketQueue, metrics *monitoring.Metrics) (*Engine, error) {
	if iface == "" {
		iface = "any"
	}

	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, fmt.Errorf("create inactive handle: %w", err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snapLen); err != nil {
		return nil, fmt.Errorf("set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(true); err != nil {
		return nil, fmt.Errorf("set promiscuous mode: %w", err)
	}
	if err := inactive.SetTimeout(pcap.BlockForever); err != nil {
		return nil, fmt.Errorf("set timeout: %w", err)
	}
	if err := inactive.SetBufferSize(kernelBufferMB * 1024 * 1024); err != nil {
		slog.Warn("[Capture] Failed to set kernel buffer size", "error", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("activate handle on %s: %w", iface, err)
	}

	return &Engine{
		iface:   iface,
		handle:  handle,
		source:  gopacket.NewPacketSource(handle, handle.LinkType()),
		queue:   queue,
		metrics: metrics,
	}, nil
}

// Run pumps packets from the interface into the queue until the context is
// cancelled or the handle is closed. A full queue sheds the packet; the
// loop itself never waits.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("capture already running")
	}
	defer e.running.Store(false)

	slog.Info("[Capture] Sniffing started", "interface", e.iface)
	packets := e.source.Packets()

	for {
		select {
		case <-ctx.Done():
			slog.Info("[Capture] Stopped by shutdown signal")
			return ctx.Err()

		case pkt, ok := <-packets:
			if !ok {
				slog.Info("[Capture] Packet source closed")
				return nil
			}
			if pkt == nil {
				continue
			}

			n := e.captured.Add(1)
			if e.metrics != nil {
				e.metrics.PacketsCaptured.Inc()
			}
			if n%50 == 0 {
				slog.Info("[Capture] Sniffer active",
					"packets", n, "dropped", e.queue.Dropped())
			}

			if !e.queue.TryEnqueue(pkt) && e.metrics != nil {
				e.metrics.PacketsDropped.Inc()
			}
		}
	}
}

// Close releases the pcap handle, which also unblocks Run.
func (e *Engine) Close() {
	if e.handle != nil {
		e.handle.Close()
	}
}

// Stats reports capture counters, including kernel-level drops.
func (e *Engine) Stats() (captured, queueDropped, kernelDropped int64) {
	captured = e.captured.Load()
	queueDropped = e.queue.Dropped()
	if e.handle != nil {
		if s, err := e.handle.Stats(); err == nil {
			kernelDropped = int64(s.PacketsDropped)
		}
	}
	return
}

// IsRunning reports whether the capture loop is active.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}
