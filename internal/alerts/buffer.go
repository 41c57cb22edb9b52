package alerts

import "sync"

// DefaultBufferSize is how many alerts the control plane retains.
const DefaultBufferSize = 100

// Buffer is a concurrency-safe FIFO of recent alerts. When full, the oldest
// alert is evicted. Reads return alerts in insertion order.
type Buffer struct {
	mu    sync.RWMutex
	max   int
	items []*Alert
}

// NewBuffer creates a buffer holding up to max alerts; max <= 0 uses the
// default.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultBufferSize
	}
	return &Buffer{max: max}
}

// Add appends an alert, evicting the oldest when the buffer is full.
func (b *Buffer) Add(a *Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, a)
	if len(b.items) > b.max {
		b.items = b.items[1:]
	}
}

// All returns a snapshot of the buffered alerts, oldest first.
func (b *Buffer) All() []*Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Alert, len(b.items))
	copy(out, b.items)
	return out
}

// Len reports the number of buffered alerts.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}
