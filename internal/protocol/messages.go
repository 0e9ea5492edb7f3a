package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names exchanged as JSON text messages on the call websocket. Audio
// travels as separate binary messages; these events only carry control flow.
const (
	// Client -> server.
	EventStopTTS = "stopTts"
	EventEndCall = "endCall"

	// Server -> client.
	EventEndOfTTS = "endOfTts"
)

var ErrUnknownEvent = errors.New("unknown control event")

// ControlMessage is the envelope for all text messages on the call socket.
type ControlMessage struct {
	Event string `json:"event"`
}

// ParseControl decodes a text message from either side of the socket. Unknown
// or malformed messages return an error; receivers log and ignore them without
// ending the call.
func ParseControl(raw []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("invalid control message: %w", err)
	}
	switch msg.Event {
	case EventStopTTS, EventEndCall, EventEndOfTTS:
		return msg, nil
	case "":
		return ControlMessage{}, errors.New("missing control event")
	default:
		return ControlMessage{}, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
	}
}

// EndOfTTS is the terminal marker for one assistant turn's audio.
func EndOfTTS() []byte {
	raw, _ := json.Marshal(ControlMessage{Event: EventEndOfTTS})
	return raw
}
