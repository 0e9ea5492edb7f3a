// Package stt transcribes utterance audio through Cartesia's realtime
// speech-to-text websocket.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/enijar/parley/internal/call"
)

const (
	cartesiaVersion = "2025-04-16"
	// frameBytes is ~100ms of PCM16LE mono at 16kHz. The stop flag is
	// checked between frames, bounding barge-in latency during upload.
	frameBytes = 3200
)

type Config struct {
	APIKey     string
	WSBaseURL  string
	Model      string
	Language   string
	SampleRate int
}

type Client struct {
	cfg Config
	log *zap.SugaredLogger
}

func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.cartesia.ai"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "ink-whisper"
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Client{cfg: cfg, log: log}
}

type sttEvent struct {
	kind string
	text string
}

// Transcribe records the utterance in the call's audio log, streams it to the
// provider in frames and returns the final transcript. A stop raised
// mid-upload halts sending but the session is still finalized, so whatever the
// provider already buffered comes back as the transcript.
func (c *Client) Transcribe(ctx context.Context, cl *call.Call, pcm []byte) (string, error) {
	cl.AppendAudio(call.RoleUser, c.cfg.SampleRate, pcm)

	s, events, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer s.close()

	for off := 0; off < len(pcm); off += frameBytes {
		if cl.Stopped() {
			break
		}
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := s.writeBinary(pcm[off:end]); err != nil {
			return "", fmt.Errorf("send audio frame: %w", err)
		}
	}
	// No more audio: ask the provider to flush, then to close out.
	if err := s.writeText("finalize"); err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}

	var parts []string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return strings.TrimSpace(strings.Join(parts, "")), nil
			}
			switch ev.kind {
			case "final":
				parts = append(parts, ev.text)
			case "flush_done":
				if err := s.writeText("done"); err != nil {
					return "", fmt.Errorf("done: %w", err)
				}
			case "done":
				return strings.TrimSpace(strings.Join(parts, "")), nil
			case "error":
				return "", fmt.Errorf("stt provider error: %s", ev.text)
			}
		}
	}
}

func (c *Client) dial(ctx context.Context) (*session, <-chan sttEvent, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.WSBaseURL, "/") + "/stt/websocket")
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	q.Set("language", c.cfg.Language)
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	q.Set("api_key", c.cfg.APIKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial stt websocket: %w", err)
	}

	events := make(chan sttEvent, 64)
	s := &session{conn: conn, events: events, log: c.log}
	go s.readLoop()
	return s, events, nil
}

type session struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan sttEvent
	log       *zap.SugaredLogger
}

func (s *session) writeBinary(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *session) writeText(command string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(command))
}

// readLoop is the only sender on events and closes it on exit.
func (s *session) readLoop() {
	defer func() {
		s.close()
		close(s.events)
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw struct {
			Type    string `json:"type"`
			Text    string `json:"text"`
			IsFinal bool   `json:"is_final"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			s.log.Debugw("stt message unmarshal failed", "err", err)
			continue
		}
		switch raw.Type {
		case "transcript":
			// Fragments keep their own spacing; the transcript is their
			// plain concatenation.
			if raw.IsFinal {
				s.events <- sttEvent{kind: "final", text: raw.Text}
			}
		case "flush_done":
			s.events <- sttEvent{kind: "flush_done"}
		case "done":
			s.events <- sttEvent{kind: "done"}
		case "error":
			s.events <- sttEvent{kind: "error", text: raw.Message}
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
