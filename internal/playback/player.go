package playback

import (
	"encoding/binary"
	"sync/atomic"
)

// Player is the sink for synthesized speech on the client side.
type Player interface {
	// Enqueue adds a PCM16LE chunk received from the service.
	Enqueue(pcm []byte)
	// Pause holds playback, emitting silence without consuming samples.
	Pause()
	// Resume releases a pause.
	Resume()
	// Stop discards everything buffered. Used on barge-in.
	Stop()
	// Render fills out with the next samples for the audio device.
	Render(out []int16)
}

// RingPlayer plays through a Ring.
type RingPlayer struct {
	ring   *Ring
	paused atomic.Bool
}

func NewRingPlayer(capacitySamples int) *RingPlayer {
	return &RingPlayer{ring: NewRing(capacitySamples)}
}

func (p *RingPlayer) Enqueue(pcm []byte) {
	p.ring.Write(bytesToSamples(pcm))
}

func (p *RingPlayer) Pause()  { p.paused.Store(true) }
func (p *RingPlayer) Resume() { p.paused.Store(false) }

func (p *RingPlayer) Stop() {
	p.ring.Reset()
}

func (p *RingPlayer) Render(out []int16) {
	if p.paused.Load() {
		for i := range out {
			out[i] = 0
		}
		return
	}
	p.ring.ReadInto(out)
}

// Buffered reports the samples waiting for playback.
func (p *RingPlayer) Buffered() int { return p.ring.Buffered() }

// QueuePlayer plays whole chunks in order through a Queue.
type QueuePlayer struct {
	queue  *Queue
	paused atomic.Bool

	current []int16
	offset  int
}

func NewQueuePlayer() *QueuePlayer {
	return &QueuePlayer{queue: NewQueue()}
}

func (p *QueuePlayer) Enqueue(pcm []byte) {
	p.queue.Enqueue(bytesToSamples(pcm))
}

func (p *QueuePlayer) Pause()  { p.paused.Store(true) }
func (p *QueuePlayer) Resume() { p.paused.Store(false) }

func (p *QueuePlayer) Stop() {
	p.queue.Clear()
	p.current = nil
	p.offset = 0
}

// Render is called from the audio device goroutine only.
func (p *QueuePlayer) Render(out []int16) {
	if p.paused.Load() {
		for i := range out {
			out[i] = 0
		}
		return
	}
	filled := 0
	for filled < len(out) {
		if p.current == nil {
			chunk, ok := p.queue.Next()
			if !ok {
				break
			}
			p.current = chunk
			p.offset = 0
		}
		n := copy(out[filled:], p.current[p.offset:])
		filled += n
		p.offset += n
		if p.offset >= len(p.current) {
			p.current = nil
			p.queue.Done()
		}
	}
	for i := filled; i < len(out); i++ {
		out[i] = 0
	}
}

func bytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes converts device samples back to wire PCM16LE.
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}
