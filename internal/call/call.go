package call

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation history replayed to the language
// model on every turn.
type Turn struct {
	Role Role
	Text string
}

// AudioEntry is one chronological slice of the call recording.
type AudioEntry struct {
	Role       Role
	SampleRate int
	PCM        []byte
}

// Call is the per-connection pipeline state: the cooperative stop flag, the
// turn history and the audio log. History and audio are mutated by the call's
// single turn flow; the mutex exists because the control path reads the audio
// log for export while a turn may still be appending to it.
type Call struct {
	ID        string
	StartedAt time.Time

	// Persona and Provider come from the connection request. Set once before
	// the call is shared; empty means use the server defaults.
	Persona  string
	Provider string

	stopped atomic.Bool

	mu             sync.Mutex
	lastActivityAt time.Time
	turns          []Turn
	audio          []AudioEntry
}

func New() *Call {
	now := time.Now().UTC()
	return &Call{
		ID:             uuid.NewString(),
		StartedAt:      now,
		lastActivityAt: now,
	}
}

// Start clears the stop flag ahead of a new turn. Idempotent.
func (c *Call) Start() {
	c.stopped.Store(false)
}

// Stop requests cooperative cancellation. Adapters observe it at their next
// checkpoint; nothing in flight is aborted preemptively.
func (c *Call) Stop() {
	c.stopped.Store(true)
}

func (c *Call) Stopped() bool {
	return c.stopped.Load()
}

// End stops the call and discards the audio log. Any export must have read
// the log before End.
func (c *Call) End() {
	c.Stop()
	c.mu.Lock()
	c.audio = nil
	c.mu.Unlock()
}

func (c *Call) Touch() {
	c.mu.Lock()
	c.lastActivityAt = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Call) LastActivityAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivityAt
}

// AppendTurn adds a history entry and returns its index so a streaming
// generation can keep filling the entry as deltas arrive.
func (c *Call) AppendTurn(role Role, text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, Turn{Role: role, Text: text})
	return len(c.turns) - 1
}

// AppendToTurn extends the text of an existing history entry. An interrupt
// mid-stream leaves the truncated entry in place; history records what was
// actually generated.
func (c *Call) AppendToTurn(index int, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.turns) {
		return
	}
	c.turns[index].Text += delta
}

func (c *Call) TurnText(index int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.turns) {
		return ""
	}
	return c.turns[index].Text
}

// History returns a copy of the turn history in order.
func (c *Call) History() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// AppendAudio records one PCM chunk in chronological order. The payload is
// copied; entries are immutable once appended.
func (c *Call) AppendAudio(role Role, sampleRate int, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.mu.Lock()
	c.audio = append(c.audio, AudioEntry{Role: role, SampleRate: sampleRate, PCM: buf})
	c.mu.Unlock()
}

// AudioLog returns the recorded entries in order.
func (c *Call) AudioLog() []AudioEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AudioEntry, len(c.audio))
	copy(out, c.audio)
	return out
}
