// Package ringbuf holds the most recent decimated values for every channel.
//
// The ingestion goroutine is the only writer. Display readers take copies
// through Snapshot and SnapshotAll, so the lock is held for the copy only.
package ringbuf

import (
	"sync"
	"sync/atomic"
)

// Buffers is a set of bounded per-channel FIFOs.
type Buffers struct {
	mu       sync.RWMutex
	data     [][]float64
	capacity int

	dropped atomic.Int64 // pushes to channels outside [0, channels)
}

// New creates empty buffers for the given channel count, each retaining at
// most capacity values.
func New(channels, capacity int) *Buffers {
	if channels < 0 {
		channels = 0
	}
	if capacity < 0 {
		capacity = 0
	}
	data := make([][]float64, channels)
	for i := range data {
		data[i] = make([]float64, 0, capacity)
	}
	return &Buffers{data: data, capacity: capacity}
}

// Push appends values to a channel and keeps only the last Capacity entries.
func (b *Buffers) Push(channel int, values []float64) {
	if channel < 0 || channel >= len(b.data) {
		b.dropped.Add(1)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.data[channel]
	if len(values) >= b.capacity {
		cur = append(cur[:0], values[len(values)-b.capacity:]...)
		b.data[channel] = cur
		return
	}

	if overflow := len(cur) + len(values) - b.capacity; overflow > 0 {
		// Shift in place so the backing array never grows past capacity.
		n := copy(cur, cur[overflow:])
		cur = cur[:n]
	}
	b.data[channel] = append(cur, values...)
}

// Snapshot returns a copy of one channel's contents, oldest first.
func (b *Buffers) Snapshot(channel int) []float64 {
	if channel < 0 || channel >= len(b.data) {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]float64, len(b.data[channel]))
	copy(out, b.data[channel])
	return out
}

// SnapshotAll copies every channel under a single read lock.
func (b *Buffers) SnapshotAll() [][]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([][]float64, len(b.data))
	for i, ch := range b.data {
		out[i] = make([]float64, len(ch))
		copy(out[i], ch)
	}
	return out
}

// Len returns the number of values currently held for a channel.
func (b *Buffers) Len(channel int) int {
	if channel < 0 || channel >= len(b.data) {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data[channel])
}

// Capacity is the per-channel bound.
func (b *Buffers) Capacity() int { return b.capacity }

// Channels is the number of channels held.
func (b *Buffers) Channels() int { return len(b.data) }

// Dropped counts pushes that named a channel outside the buffer set.
func (b *Buffers) Dropped() int64 { return b.dropped.Load() }

// Reset empties every channel.
func (b *Buffers) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.data {
		b.data[i] = b.data[i][:0]
	}
}
