// Package tts synthesizes speech through Cartesia's realtime text-to-speech
// websocket, streaming PCM chunks as they are produced.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/enijar/parley/internal/call"
)

const cartesiaVersion = "2025-04-16"

type Config struct {
	APIKey     string
	WSBaseURL  string
	Model      string
	VoiceID    string
	Language   string
	SampleRate int
}

// Client holds the provider settings and dials one Stream per turn. Streams
// are independent, so concurrent calls never share a provider connection.
type Client struct {
	cfg Config
	log *zap.SugaredLogger
}

func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.cartesia.ai"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "sonic-2"
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Client{cfg: cfg, log: log}
}

// OpenStream dials a fresh provider session for one turn's sentences.
func (c *Client) OpenStream(ctx context.Context) (*Stream, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.WSBaseURL, "/") + "/tts/websocket")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("api_key", c.cfg.APIKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}

	s := &session{conn: conn, events: make(chan ttsEvent, 256), log: c.log}
	go s.readLoop()
	return &Stream{cfg: c.cfg, log: c.log, s: s}, nil
}

// Stream is one turn's synthesis session. Sentences spoken on the same
// context id continue each other's prosody.
type Stream struct {
	cfg Config
	log *zap.SugaredLogger

	mu sync.Mutex
	s  *session
}

type ttsRequest struct {
	ModelID      string          `json:"model_id"`
	Voice        ttsVoice        `json:"voice"`
	Language     string          `json:"language"`
	ContextID    string          `json:"context_id"`
	Transcript   string          `json:"transcript"`
	Continue     bool            `json:"continue"`
	OutputFormat ttsOutputFormat `json:"output_format"`
}

type ttsVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type ttsOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type ttsCancel struct {
	ContextID string `json:"context_id"`
	Cancel    bool   `json:"cancel"`
}

// Speak synthesizes one sentence on the given context and forwards each PCM
// chunk to emit after recording it in the call's audio log. cont marks a
// continuation of an earlier sentence on the same context. The call's stop
// flag is checked per chunk; when raised, the context is cancelled upstream
// and Speak returns nil.
func (st *Stream) Speak(ctx context.Context, cl *call.Call, text, contextID string, cont bool, emit func([]byte) error) error {
	if cl.Stopped() {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.s == nil {
		return fmt.Errorf("speech stream closed")
	}

	req := ttsRequest{
		ModelID:    st.cfg.Model,
		Voice:      ttsVoice{Mode: "id", ID: st.cfg.VoiceID},
		Language:   st.cfg.Language,
		ContextID:  contextID,
		Transcript: text + " ",
		Continue:   cont,
		OutputFormat: ttsOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: st.cfg.SampleRate,
		},
	}
	if err := st.s.writeJSON(req); err != nil {
		st.dropSession()
		return fmt.Errorf("send tts request: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			st.dropSession()
			return ctx.Err()
		case ev, ok := <-st.s.events:
			if !ok {
				st.dropSession()
				return fmt.Errorf("tts session closed mid-synthesis")
			}
			if ev.contextID != contextID {
				// Tail of a cancelled context.
				continue
			}
			switch ev.kind {
			case "chunk":
				cl.AppendAudio(call.RoleAssistant, st.cfg.SampleRate, ev.data)
				if cl.Stopped() {
					if err := st.s.writeJSON(ttsCancel{ContextID: contextID, Cancel: true}); err != nil {
						st.dropSession()
					}
					return nil
				}
				if err := emit(ev.data); err != nil {
					return err
				}
			case "done":
				return nil
			case "error":
				st.dropSession()
				return fmt.Errorf("tts provider error: %s", ev.msg)
			}
		}
	}
}

func (st *Stream) dropSession() {
	if st.s != nil {
		st.s.close()
		st.s = nil
	}
}

// Close tears down the provider session, if any.
func (st *Stream) Close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.dropSession()
}

type ttsEvent struct {
	kind      string
	contextID string
	data      []byte
	msg       string
}

type session struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan ttsEvent
	log       *zap.SugaredLogger
}

func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
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
			Type      string `json:"type"`
			ContextID string `json:"context_id"`
			Data      string `json:"data"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			s.log.Debugw("tts message unmarshal failed", "err", err)
			continue
		}
		switch raw.Type {
		case "chunk":
			pcm, err := base64.StdEncoding.DecodeString(raw.Data)
			if err != nil {
				s.log.Debugw("tts chunk decode failed", "err", err)
				continue
			}
			s.events <- ttsEvent{kind: "chunk", contextID: raw.ContextID, data: pcm}
		case "done":
			s.events <- ttsEvent{kind: "done", contextID: raw.ContextID}
		case "error":
			s.events <- ttsEvent{kind: "error", contextID: raw.ContextID, msg: raw.Error}
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
