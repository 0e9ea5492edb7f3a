package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/enijar/parley/internal/call"
	"github.com/enijar/parley/internal/config"
	"github.com/enijar/parley/internal/logging"
	"github.com/enijar/parley/internal/observability"
	"github.com/enijar/parley/internal/pipeline"
	"github.com/enijar/parley/internal/protocol"
)

var (
	metricsOnce sync.Once
	testMetrics *observability.Metrics
)

func metrics() *observability.Metrics {
	metricsOnce.Do(func() {
		testMetrics = observability.NewMetrics("httpserver_test")
	})
	return testMetrics
}

// echoRunner plays the utterance back as two chunks and ends the turn.
type echoRunner struct {
	mu    sync.Mutex
	calls []*call.Call
	runs  int
}

func (r *echoRunner) Run(_ context.Context, c *call.Call, sender pipeline.Sender, utterance []byte) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.runs++
	r.mu.Unlock()

	c.AppendAudio(call.RoleUser, 16000, utterance)
	half := len(utterance) / 2
	c.AppendAudio(call.RoleAssistant, 16000, utterance[:half])
	if err := sender.SendAudio(utterance[:half]); err != nil {
		return err
	}
	c.AppendAudio(call.RoleAssistant, 16000, utterance[half:])
	if err := sender.SendAudio(utterance[half:]); err != nil {
		return err
	}
	return sender.SendEndOfTTS()
}

func (r *echoRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func newTestServer(t *testing.T, cfg config.Config, runner Runner) (*httptest.Server, *call.Registry) {
	t.Helper()
	if cfg.ExportSampleRate == 0 {
		cfg.ExportSampleRate = 16000
	}
	cfg.AllowAnyOrigin = true
	registry := call.NewRegistry(time.Minute)
	s := New(cfg, registry, runner, metrics(), logging.Nop())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv, registry
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCallWSTurnRoundTrip(t *testing.T) {
	runner := &echoRunner{}
	srv, _ := newTestServer(t, config.Config{}, runner)
	conn := dialWS(t, srv)

	utterance := []byte{1, 2, 3, 4, 5, 6}
	if err := conn.WriteMessage(websocket.BinaryMessage, utterance); err != nil {
		t.Fatalf("write utterance: %v", err)
	}

	var audio []byte
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msgType == websocket.BinaryMessage {
			audio = append(audio, data...)
			continue
		}
		var msg protocol.ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal control: %v", err)
		}
		if msg.Event != protocol.EventEndOfTTS {
			t.Fatalf("event = %q, want %q", msg.Event, protocol.EventEndOfTTS)
		}
		break
	}
	if string(audio) != string(utterance) {
		t.Fatalf("audio = %v, want %v", audio, utterance)
	}
}

func TestCallWSQueryParamsLandOnCall(t *testing.T) {
	runner := &echoRunner{}
	srv, _ := newTestServer(t, config.Config{}, runner)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?persona=a+stern+librarian&provider=anthropic"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2}); err != nil {
		t.Fatalf("write utterance: %v", err)
	}
	waitFor(t, func() bool { return runner.runCount() == 1 })

	runner.mu.Lock()
	c := runner.calls[0]
	runner.mu.Unlock()
	if c.Persona != "a stern librarian" {
		t.Fatalf("persona = %q", c.Persona)
	}
	if c.Provider != "anthropic" {
		t.Fatalf("provider = %q", c.Provider)
	}
}

func TestCallWSStopTTSRaisesStopFlag(t *testing.T) {
	block := make(chan struct{})
	var got *call.Call
	var gotMu sync.Mutex
	runner := runnerFunc(func(_ context.Context, c *call.Call, sender pipeline.Sender, _ []byte) error {
		gotMu.Lock()
		got = c
		gotMu.Unlock()
		<-block
		return nil
	})
	srv, _ := newTestServer(t, config.Config{}, runner)
	conn := dialWS(t, srv)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2}); err != nil {
		t.Fatalf("write utterance: %v", err)
	}
	waitFor(t, func() bool {
		gotMu.Lock()
		defer gotMu.Unlock()
		return got != nil
	})

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"stopTts"}`)); err != nil {
		t.Fatalf("write stopTts: %v", err)
	}
	waitFor(t, func() bool {
		gotMu.Lock()
		defer gotMu.Unlock()
		return got.Stopped()
	})
	close(block)
}

func TestCallWSMalformedControlIgnored(t *testing.T) {
	runner := &echoRunner{}
	srv, _ := newTestServer(t, config.Config{}, runner)
	conn := dialWS(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"mystery"}`)); err != nil {
		t.Fatalf("write unknown event: %v", err)
	}

	// The connection survives and still runs turns.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{9, 9}); err != nil {
		t.Fatalf("write utterance: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read after malformed control: %v", err)
	}
}

func TestCallWSEndCallSavesRecording(t *testing.T) {
	dir := t.TempDir()
	runner := &echoRunner{}
	srv, registry := newTestServer(t, config.Config{RecordingDir: dir}, runner)
	conn := dialWS(t, srv)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write utterance: %v", err)
	}
	// Wait for the turn to finish before ending the call.
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		msgType, _, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msgType == websocket.TextMessage {
			break
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"endCall"}`)); err != nil {
		t.Fatalf("write endCall: %v", err)
	}

	waitFor(t, func() bool {
		entries, err := os.ReadDir(dir)
		return err == nil && len(entries) == 1
	})
	entries, _ := os.ReadDir(dir)
	if filepath.Ext(entries[0].Name()) != ".wav" {
		t.Fatalf("recording name = %q, want .wav", entries[0].Name())
	}

	waitFor(t, func() bool { return registry.ActiveCount() == 0 })

	runner.mu.Lock()
	c := runner.calls[0]
	runner.mu.Unlock()
	if !c.Stopped() {
		t.Fatalf("ended call should be stopped")
	}
	if len(c.AudioLog()) != 0 {
		t.Fatalf("ended call should have a cleared audio log")
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{}, &echoRunner{})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestLatencyDebugEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{}, &echoRunner{})
	resp, err := http.Get(srv.URL + "/debug/latency")
	if err != nil {
		t.Fatalf("get latency: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

type runnerFunc func(ctx context.Context, c *call.Call, sender pipeline.Sender, utterance []byte) error

func (f runnerFunc) Run(ctx context.Context, c *call.Call, sender pipeline.Sender, utterance []byte) error {
	return f(ctx, c, sender, utterance)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
