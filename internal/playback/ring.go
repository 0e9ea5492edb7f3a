// Package playback buffers synthesized speech between the network and the
// audio device. Two strategies are provided: a fixed ring that trades a
// bounded delay for overwrite on overflow, and a chunk queue that plays
// buffers strictly one at a time.
package playback

import "sync"

// Ring is a fixed-capacity sample buffer. Reads past the buffered data are
// filled with silence so the audio device never starves; writes past capacity
// overwrite the oldest samples, keeping playback near real time after a long
// stall.
type Ring struct {
	mu    sync.Mutex
	buf   []int16
	start int
	size  int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 16000
	}
	return &Ring{buf: make([]int16, capacity)}
}

// Write appends samples, dropping the oldest buffered samples on overflow.
func (r *Ring) Write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(samples)
	if n >= len(r.buf) {
		// The chunk alone fills the ring; keep its tail.
		copy(r.buf, samples[n-len(r.buf):])
		r.start = 0
		r.size = len(r.buf)
		return
	}

	if overflow := r.size + n - len(r.buf); overflow > 0 {
		r.start = (r.start + overflow) % len(r.buf)
		r.size -= overflow
	}
	pos := (r.start + r.size) % len(r.buf)
	tail := copy(r.buf[pos:], samples)
	copy(r.buf, samples[tail:])
	r.size += n
}

// ReadInto fills out with buffered samples, padding with silence on underrun.
// Returns the number of real samples copied.
func (r *Ring) ReadInto(out []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(out)
	if n > r.size {
		n = r.size
	}
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	r.start = (r.start + n) % len(r.buf)
	r.size -= n
	return n
}

// Reset discards all buffered samples.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.start = 0
	r.size = 0
	r.mu.Unlock()
}

// Buffered reports how many samples are waiting to be read.
func (r *Ring) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
