// Package vad segments a microphone stream into utterances with a simple
// energy endpointer: speech starts when frame energy stays above the start
// threshold, and ends after a hangover of quiet frames.
package vad

import (
	"encoding/binary"
	"math"
)

type Config struct {
	// StartRMS is the normalized RMS a frame must exceed to count as speech.
	StartRMS float64
	// EndRMS is the level below which a frame counts as silence.
	EndRMS float64
	// StartFrames is how many consecutive speech frames open an utterance.
	StartFrames int
	// HangoverFrames is how many consecutive quiet frames close it.
	HangoverFrames int
	// PrerollFrames of audio preceding the trigger are kept so the first
	// syllable is not clipped.
	PrerollFrames int
}

func (c Config) withDefaults() Config {
	if c.StartRMS <= 0 {
		c.StartRMS = 0.015
	}
	if c.EndRMS <= 0 {
		c.EndRMS = 0.008
	}
	if c.StartFrames <= 0 {
		c.StartFrames = 2
	}
	if c.HangoverFrames <= 0 {
		c.HangoverFrames = 8
	}
	if c.PrerollFrames <= 0 {
		c.PrerollFrames = 3
	}
	return c
}

// Detector consumes fixed-size PCM16LE frames and fires callbacks at
// utterance boundaries. Not safe for concurrent use; feed it from the
// capture goroutine only.
type Detector struct {
	cfg Config

	onSpeechStart func()
	onSpeechEnd   func(pcm []byte)

	inSpeech  bool
	speechRun int
	quietRun  int
	preroll   [][]byte
	utterance []byte
}

func NewDetector(cfg Config, onSpeechStart func(), onSpeechEnd func(pcm []byte)) *Detector {
	return &Detector{
		cfg:           cfg.withDefaults(),
		onSpeechStart: onSpeechStart,
		onSpeechEnd:   onSpeechEnd,
	}
}

// Process feeds one captured frame through the endpointer.
func (d *Detector) Process(frame []byte) {
	if len(frame) < 2 {
		return
	}
	level := rms(frame)

	if !d.inSpeech {
		d.pushPreroll(frame)
		if level >= d.cfg.StartRMS {
			d.speechRun++
			if d.speechRun >= d.cfg.StartFrames {
				d.openUtterance()
			}
		} else {
			d.speechRun = 0
		}
		return
	}

	d.utterance = append(d.utterance, frame...)
	if level < d.cfg.EndRMS {
		d.quietRun++
		if d.quietRun >= d.cfg.HangoverFrames {
			d.closeUtterance()
		}
	} else {
		d.quietRun = 0
	}
}

// Flush closes an in-progress utterance, if any. Call when capture stops.
func (d *Detector) Flush() {
	if d.inSpeech {
		d.closeUtterance()
	}
}

func (d *Detector) openUtterance() {
	d.inSpeech = true
	d.speechRun = 0
	d.quietRun = 0
	d.utterance = d.utterance[:0]
	for _, f := range d.preroll {
		d.utterance = append(d.utterance, f...)
	}
	d.preroll = d.preroll[:0]
	if d.onSpeechStart != nil {
		d.onSpeechStart()
	}
}

func (d *Detector) closeUtterance() {
	d.inSpeech = false
	d.speechRun = 0
	d.quietRun = 0
	pcm := make([]byte, len(d.utterance))
	copy(pcm, d.utterance)
	d.utterance = d.utterance[:0]
	if d.onSpeechEnd != nil {
		d.onSpeechEnd(pcm)
	}
}

func (d *Detector) pushPreroll(frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	d.preroll = append(d.preroll, buf)
	if len(d.preroll) > d.cfg.PrerollFrames {
		d.preroll = d.preroll[1:]
	}
}

func rms(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
