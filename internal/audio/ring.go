package audio

import (
	"sync"
)

// Ring is a thread-safe circular buffer for float32 PCM samples. It holds the
// most recent samples up to a fixed capacity chosen at construction; older
// samples are overwritten once the buffer is full. Readers only ever need the
// tail of the stream, so nothing is ever blocked on a full buffer.
type Ring struct {
	mu       sync.Mutex
	buf      []float32
	capacity int
	writePos int // index of the next write
	size     int // number of valid samples, <= capacity
}

// NewRing creates a ring buffer holding up to capacity samples.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		buf:      make([]float32, capacity),
		capacity: capacity,
	}
}

// Append adds samples to the ring, overwriting the oldest data when full.
// A batch at least as large as the capacity replaces the entire contents
// with the newest samples; the skipped-over middle is never observable.
func (r *Ring) Append(samples []float32) {
	n := len(samples)
	if n == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if n >= r.capacity {
		copy(r.buf, samples[n-r.capacity:])
		r.writePos = 0
		r.size = r.capacity
		return
	}

	endSpace := r.capacity - r.writePos
	if n <= endSpace {
		copy(r.buf[r.writePos:], samples)
	} else {
		copy(r.buf[r.writePos:], samples[:endSpace])
		copy(r.buf, samples[endSpace:])
	}
	r.writePos = (r.writePos + n) % r.capacity
	r.size += n
	if r.size > r.capacity {
		r.size = r.capacity
	}
}

// ReadLast copies the most recent min(len(dst), Len()) samples into dst in
// chronological order and returns the number of samples written. The copy is
// made under the lock, so the result is a consistent snapshot even while an
// appender is running.
func (r *Ring) ReadLast(dst []float32) int {
	if len(dst) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(dst)
	if n > r.size {
		n = r.size
	}
	if n == 0 {
		return 0
	}

	start := (r.writePos - n + r.capacity) % r.capacity
	if start+n <= r.capacity {
		copy(dst, r.buf[start:start+n])
	} else {
		endSpace := r.capacity - start
		copy(dst, r.buf[start:])
		copy(dst[endSpace:], r.buf[:n-endSpace])
	}
	return n
}

// Len returns the number of samples currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity in samples.
func (r *Ring) Cap() int {
	return r.capacity
}
