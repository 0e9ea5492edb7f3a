package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/enijar/parley/internal/call"
	"github.com/enijar/parley/internal/logging"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// fakeSTTServer speaks enough of the provider protocol for Transcribe:
// binary frames accumulate, "finalize" flushes transcripts, "done" closes out.
func fakeSTTServer(t *testing.T, transcripts []string, gotFrames *[][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stt/websocket" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("api_key") == "" {
			t.Errorf("missing api_key query param")
		}
		if r.URL.Query().Get("encoding") != "pcm_s16le" {
			t.Errorf("encoding = %q", r.URL.Query().Get("encoding"))
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				if gotFrames != nil {
					frame := make([]byte, len(data))
					copy(frame, data)
					*gotFrames = append(*gotFrames, frame)
				}
				continue
			}
			switch string(data) {
			case "finalize":
				for _, text := range transcripts {
					conn.WriteJSON(map[string]any{"type": "transcript", "text": text, "is_final": true})
				}
				conn.WriteJSON(map[string]any{"type": "flush_done"})
			case "done":
				conn.WriteJSON(map[string]any{"type": "done"})
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTranscribeConcatenatesFinalTranscripts(t *testing.T) {
	var frames [][]byte
	srv := fakeSTTServer(t, []string{"hello ", "world"}, &frames)
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", WSBaseURL: wsURL(srv), SampleRate: 16000}, logging.Nop())
	c := call.New()

	pcm := make([]byte, frameBytes+100)
	got, err := client.Transcribe(context.Background(), c, pcm)
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("transcript = %q, want %q", got, "hello world")
	}

	if len(frames) != 2 {
		t.Fatalf("server received %d frames, want 2", len(frames))
	}
	if len(frames[0]) != frameBytes || len(frames[1]) != 100 {
		t.Fatalf("frame sizes = %d, %d", len(frames[0]), len(frames[1]))
	}

	log := c.AudioLog()
	if len(log) != 1 || log[0].Role != call.RoleUser || len(log[0].PCM) != len(pcm) {
		t.Fatalf("audio log = %+v", log)
	}
}

func TestTranscribeEmptySpeech(t *testing.T) {
	srv := fakeSTTServer(t, []string{"  "}, nil)
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", WSBaseURL: wsURL(srv)}, logging.Nop())
	got, err := client.Transcribe(context.Background(), call.New(), make([]byte, 320))
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if got != "" {
		t.Fatalf("transcript = %q, want empty", got)
	}
}

func TestTranscribeStoppedCallFinalizesWithoutUpload(t *testing.T) {
	var frames [][]byte
	srv := fakeSTTServer(t, []string{"buffered"}, &frames)
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", WSBaseURL: wsURL(srv)}, logging.Nop())
	c := call.New()
	c.Stop()

	// Upload halts but the session is still finalized, so the provider's
	// buffered transcript comes back.
	got, err := client.Transcribe(context.Background(), c, make([]byte, frameBytes*2))
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if got != "buffered" {
		t.Fatalf("transcript = %q, want %q", got, "buffered")
	}
	if len(frames) != 0 {
		t.Fatalf("server received %d frames after stop, want 0", len(frames))
	}
	// The utterance is still recorded even when the upload is cut short.
	if len(c.AudioLog()) != 1 {
		t.Fatalf("audio log entries = %d, want 1", len(c.AudioLog()))
	}
}
