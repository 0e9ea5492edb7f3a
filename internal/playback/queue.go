package playback

import "sync"

// Queue holds whole speech chunks and hands them out strictly one at a time:
// Next refuses to pop while a previously popped chunk has not been marked
// done. This keeps chunk boundaries intact for sinks that schedule whole
// buffers instead of pulling a sample stream.
type Queue struct {
	mu      sync.Mutex
	pending [][]int16
	playing bool
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(chunk []int16) {
	if len(chunk) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, chunk)
	q.mu.Unlock()
}

// Next pops the oldest chunk. It returns false while a chunk is still
// playing or when the queue is empty.
func (q *Queue) Next() ([]int16, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.playing || len(q.pending) == 0 {
		return nil, false
	}
	chunk := q.pending[0]
	q.pending = q.pending[1:]
	q.playing = true
	return chunk, true
}

// Done marks the current chunk finished, allowing the next pop.
func (q *Queue) Done() {
	q.mu.Lock()
	q.playing = false
	q.mu.Unlock()
}

// Clear drops all pending chunks and the playing gate.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.playing = false
	q.mu.Unlock()
}

// Len reports the number of pending chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
