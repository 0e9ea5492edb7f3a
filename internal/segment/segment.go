// Package segment splits a streaming text into sentences so speech synthesis
// can start on a finished sentence while the rest is still being generated.
package segment

import (
	"strings"
	"unicode"
)

// Segmenter accumulates streamed text deltas and emits complete sentences.
// A sentence ends at '.', '?' or '!' immediately followed by whitespace.
// Behavior is independent of how the text is chunked into deltas.
type Segmenter struct {
	buf []rune
}

func New() *Segmenter {
	return &Segmenter{}
}

// Push appends a delta and returns any sentences completed by it, in order.
func (s *Segmenter) Push(delta string) []string {
	s.buf = append(s.buf, []rune(delta)...)

	var out []string
	start := 0
	for i := 0; i < len(s.buf)-1; i++ {
		if !isTerminal(s.buf[i]) || !unicode.IsSpace(s.buf[i+1]) {
			continue
		}
		if sentence := strings.TrimSpace(string(s.buf[start : i+1])); sentence != "" {
			out = append(out, sentence)
		}
		start = i + 1
	}
	if start > 0 {
		s.buf = append(s.buf[:0], s.buf[start:]...)
	}
	return out
}

// Flush returns the trailing text that never reached a boundary, if any.
func (s *Segmenter) Flush() (string, bool) {
	rest := strings.TrimSpace(string(s.buf))
	s.buf = s.buf[:0]
	if rest == "" {
		return "", false
	}
	return rest, true
}

func isTerminal(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}
