package gateway

import (
	"sync"

	"github.com/rwilli/localweather/internal/metrics"
	"github.com/rwilli/localweather/internal/types"
)

// bufferEntry tags a queued reading with a sequence number so a publish in
// flight can be reconciled against entries dropped by an overflow.
type bufferEntry struct {
	seq     uint64
	reading types.Reading
}

// publishBuffer is the bounded queue between report decoding and bus
// publishing. While the bus is unreachable, readings accumulate here; once
// the bound is exceeded, the oldest entries are dropped and the degraded
// flag is raised. Backpressure, not unbounded memory growth.
type publishBuffer struct {
	mu       sync.Mutex
	entries  []bufferEntry
	nextSeq  uint64
	capacity int
	degraded bool
	notify   chan struct{}
}

func newPublishBuffer(capacity int) *publishBuffer {
	return &publishBuffer{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends a reading, dropping the oldest entry if the buffer is full.
// Returns true if an entry was dropped.
func (b *publishBuffer) Push(r types.Reading) bool {
	b.mu.Lock()
	dropped := false
	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
		b.degraded = true
		dropped = true
		metrics.ReadingsDropped.Inc()
		metrics.Degraded.Set(1)
	}
	b.nextSeq++
	b.entries = append(b.entries, bufferEntry{seq: b.nextSeq, reading: r})
	metrics.PublishBufferDepth.Set(float64(len(b.entries)))
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Peek returns the oldest reading and its sequence number without removing
// it.
func (b *publishBuffer) Peek() (types.Reading, uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return types.Reading{}, 0, false
	}
	return b.entries[0].reading, b.entries[0].seq, true
}

// Pop removes the entry with the given sequence number after a successful
// publish. If an overflow dropped that entry while the publish was in
// flight, the current head is a different, never-published reading and is
// left in place. Draining the buffer clears the degraded flag.
func (b *publishBuffer) Pop(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 || b.entries[0].seq != seq {
		return
	}
	b.entries = b.entries[1:]
	metrics.PublishBufferDepth.Set(float64(len(b.entries)))
	if len(b.entries) == 0 && b.degraded {
		b.degraded = false
		metrics.Degraded.Set(0)
	}
}

// Len returns the current buffer depth.
func (b *publishBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Degraded reports whether the buffer has overflowed and not yet drained.
func (b *publishBuffer) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degraded
}

// Notify returns the channel signalled on every push.
func (b *publishBuffer) Notify() <-chan struct{} {
	return b.notify
}
