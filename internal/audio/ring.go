// Package audio provides the real-time audio primitives of the engine:
// the lock-free capture ring, level metering, waveform extraction and the
// sample processing routines shared by capture and playback.
package audio

import "sync/atomic"

// Ring is a lock-free single-producer/single-consumer ring buffer of
// interleaved float32 samples. The producer is the host audio thread; the
// consumer is a background drain goroutine. Capacity is rounded up to a
// power of two so index arithmetic is a mask, not a modulo.
//
// When the producer laps the consumer, the oldest unread samples are
// silently overwritten (true ring semantics). Cursors are monotonically
// increasing sample counts; positions are cursor & mask.
type Ring struct {
	data []float32
	mask uint64

	write atomic.Uint64 // total samples written, producer-owned
	read  atomic.Uint64 // total samples consumed, consumer-owned (CAS-advanced by producer on overflow)
}

// NewRing returns a ring holding at least minCapacity samples.
func NewRing(minCapacity int) *Ring {
	capacity := uint64(1)
	for capacity < uint64(minCapacity) {
		capacity <<= 1
	}
	return &Ring{
		data: make([]float32, capacity),
		mask: capacity - 1,
	}
}

// Capacity returns the ring capacity in samples.
func (r *Ring) Capacity() int { return len(r.data) }

// Write appends samples, overwriting the oldest unread data on overflow.
// Producer only. Never blocks, never allocates.
func (r *Ring) Write(samples []float32) {
	w := r.write.Load()
	for i, s := range samples {
		r.data[(w+uint64(i))&r.mask] = s
	}
	w += uint64(len(samples))
	r.write.Store(w)

	// Overflow: push the read cursor forward so availableToRead never
	// exceeds capacity. CAS because the consumer advances it too.
	capacity := uint64(len(r.data))
	for {
		rd := r.read.Load()
		if w-rd <= capacity {
			return
		}
		if r.read.CompareAndSwap(rd, w-capacity) {
			return
		}
	}
}

// Read copies up to len(dst) available samples into dst and consumes them.
// Consumer only. Returns the number of samples copied, which may be zero.
func (r *Ring) Read(dst []float32) int {
	for {
		rd := r.read.Load()
		w := r.write.Load()
		avail := w - rd
		n := uint64(len(dst))
		if n > avail {
			n = avail
		}
		if n == 0 {
			return 0
		}
		for i := uint64(0); i < n; i++ {
			dst[i] = r.data[(rd+i)&r.mask]
		}
		// The producer may have lapped us mid-copy; retry from its new
		// cursor so we never hand out a region that is being rewritten.
		if r.read.CompareAndSwap(rd, rd+n) {
			return int(n)
		}
	}
}

// Peek copies up to len(dst) available samples without consuming them.
func (r *Ring) Peek(dst []float32) int {
	rd := r.read.Load()
	w := r.write.Load()
	avail := w - rd
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = r.data[(rd+i)&r.mask]
	}
	return int(n)
}

// AvailableToRead returns the number of unread samples.
func (r *Ring) AvailableToRead() int {
	return int(r.write.Load() - r.read.Load())
}

// AvailableToWrite returns how many samples fit before overwriting starts.
func (r *Ring) AvailableToWrite() int {
	return len(r.data) - r.AvailableToRead()
}

// Reset clears the cursors. Valid only between recording sessions, with no
// concurrent writer.
func (r *Ring) Reset() {
	r.read.Store(0)
	r.write.Store(0)
}
