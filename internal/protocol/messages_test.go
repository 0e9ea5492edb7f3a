package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseControlAcceptsKnownEvents(t *testing.T) {
	for _, event := range []string{EventStopTTS, EventEndCall, EventEndOfTTS} {
		msg, err := ParseControl([]byte(`{"event":"` + event + `"}`))
		if err != nil {
			t.Fatalf("ParseControl(%q) error = %v", event, err)
		}
		if msg.Event != event {
			t.Fatalf("ParseControl(%q).Event = %q", event, msg.Event)
		}
	}
}

func TestParseControlRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "stop please"},
		{"missing event", `{}`},
		{"unknown event", `{"event":"selfDestruct"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseControl([]byte(tc.raw)); err == nil {
				t.Fatalf("ParseControl(%q) should fail", tc.raw)
			}
		})
	}
}

func TestParseControlUnknownEventIsClassified(t *testing.T) {
	_, err := ParseControl([]byte(`{"event":"bogus"}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("error = %v, want ErrUnknownEvent", err)
	}
}

// Clients route every inbound text frame through ParseControl, so the
// server-sent turn marker must parse like any other control event.
func TestParseControlAcceptsEndOfTTS(t *testing.T) {
	msg, err := ParseControl(EndOfTTS())
	if err != nil {
		t.Fatalf("ParseControl(EndOfTTS()) error = %v", err)
	}
	if msg.Event != EventEndOfTTS {
		t.Fatalf("Event = %q, want %q", msg.Event, EventEndOfTTS)
	}
}

func TestEndOfTTSRoundTrip(t *testing.T) {
	var msg ControlMessage
	if err := json.Unmarshal(EndOfTTS(), &msg); err != nil {
		t.Fatalf("unmarshal EndOfTTS: %v", err)
	}
	if msg.Event != EventEndOfTTS {
		t.Fatalf("Event = %q, want %q", msg.Event, EventEndOfTTS)
	}
}
