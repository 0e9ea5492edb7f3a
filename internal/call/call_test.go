package call

import (
	"testing"
)

func TestStopFlagLifecycle(t *testing.T) {
	c := New()
	if c.Stopped() {
		t.Fatalf("new call should not be stopped")
	}
	c.Stop()
	if !c.Stopped() {
		t.Fatalf("Stop() should set the flag")
	}
	c.Start()
	if c.Stopped() {
		t.Fatalf("Start() should clear the flag")
	}
	// Start is idempotent.
	c.Start()
	if c.Stopped() {
		t.Fatalf("repeated Start() should keep the flag clear")
	}
}

func TestEndStopsAndClearsAudioLog(t *testing.T) {
	c := New()
	c.AppendAudio(RoleUser, 16000, []byte{1, 2, 3, 4})
	c.AppendAudio(RoleAssistant, 16000, []byte{5, 6})
	if got := len(c.AudioLog()); got != 2 {
		t.Fatalf("len(AudioLog()) = %d, want 2", got)
	}

	c.End()
	if !c.Stopped() {
		t.Fatalf("End() should stop the call")
	}
	if got := len(c.AudioLog()); got != 0 {
		t.Fatalf("len(AudioLog()) after End() = %d, want 0", got)
	}
}

func TestHistoryIncrementalFill(t *testing.T) {
	c := New()
	c.AppendTurn(RoleUser, "hello there")
	idx := c.AppendTurn(RoleAssistant, "")
	c.AppendToTurn(idx, "Hi. ")
	c.AppendToTurn(idx, "How can I help?")

	history := c.History()
	if len(history) != 2 {
		t.Fatalf("len(History()) = %d, want 2", len(history))
	}
	if history[1].Role != RoleAssistant {
		t.Fatalf("history[1].Role = %q, want assistant", history[1].Role)
	}
	if history[1].Text != "Hi. How can I help?" {
		t.Fatalf("history[1].Text = %q", history[1].Text)
	}
	if got := c.TurnText(idx); got != "Hi. How can I help?" {
		t.Fatalf("TurnText(%d) = %q", idx, got)
	}
}

func TestAppendAudioCopiesPayload(t *testing.T) {
	c := New()
	src := []byte{1, 2, 3}
	c.AppendAudio(RoleUser, 16000, src)
	src[0] = 99

	log := c.AudioLog()
	if log[0].PCM[0] != 1 {
		t.Fatalf("AppendAudio should copy the payload, got %d", log[0].PCM[0])
	}
}

func TestAppendAudioSkipsEmptyChunk(t *testing.T) {
	c := New()
	c.AppendAudio(RoleAssistant, 16000, nil)
	if got := len(c.AudioLog()); got != 0 {
		t.Fatalf("empty chunk should not be recorded, got %d entries", got)
	}
}
