// Package httpserver exposes the call websocket plus health, metrics and
// latency debug endpoints.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/enijar/parley/internal/audio"
	"github.com/enijar/parley/internal/call"
	"github.com/enijar/parley/internal/config"
	"github.com/enijar/parley/internal/observability"
	"github.com/enijar/parley/internal/pipeline"
	"github.com/enijar/parley/internal/protocol"
)

// Runner executes one conversation turn for an utterance.
type Runner interface {
	Run(ctx context.Context, c *call.Call, sender pipeline.Sender, utterance []byte) error
}

type Server struct {
	cfg      config.Config
	calls    *call.Registry
	runner   Runner
	metrics  *observability.Metrics
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader

	// cancels maps call id to the connection cancel func so the registry
	// janitor can tear down idle sockets.
	cancels sync.Map
}

func New(cfg config.Config, calls *call.Registry, runner Runner, metrics *observability.Metrics, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:     cfg,
		calls:   calls,
		runner:  runner,
		metrics: metrics,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open a call unless the
				// deployment opts out. Non-browser clients omit Origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	calls.SetExpireHook(func(c *call.Call) {
		s.metrics.CallEvents.WithLabelValues("expired").Inc()
		if cancel, ok := s.cancels.Load(c.ID); ok {
			cancel.(context.CancelFunc)()
		}
	})
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/debug/latency", s.handleLatency)
	r.Get("/ws", s.handleCallWS)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.calls.ActiveCount(),
	})
}

func (s *Server) handleLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}

// outMsg is one frame queued for the writer goroutine, which is the only
// goroutine that writes to the socket.
type outMsg struct {
	text bool
	data []byte
}

type wsSender struct {
	ctx      context.Context
	outbound chan<- outMsg
	metrics  *observability.Metrics
}

func (w *wsSender) SendAudio(pcm []byte) error {
	return w.send(outMsg{data: pcm}, "audio")
}

func (w *wsSender) SendEndOfTTS() error {
	return w.send(outMsg{text: true, data: protocol.EndOfTTS()}, "end_of_tts")
}

func (w *wsSender) send(msg outMsg, kind string) error {
	select {
	case <-w.ctx.Done():
		return w.ctx.Err()
	case w.outbound <- msg:
		w.metrics.WSMessages.WithLabelValues("outbound", kind).Inc()
		return nil
	}
}

func (s *Server) handleCallWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := call.New()
	// Per-call persona and provider ride on the upgrade request; empty values
	// fall back to the server defaults.
	c.Persona = strings.TrimSpace(r.URL.Query().Get("persona"))
	c.Provider = strings.TrimSpace(r.URL.Query().Get("provider"))
	s.calls.Add(c)
	s.metrics.ActiveCalls.Set(float64(s.calls.ActiveCount()))
	s.metrics.CallEvents.WithLabelValues("connected").Inc()
	s.log.Infow("call connected", "call_id", c.ID, "provider", c.Provider, "persona_set", c.Persona != "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.cancels.Store(c.ID, cancel)
	defer s.cancels.Delete(c.ID)

	outbound := make(chan outMsg, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				msgType := websocket.BinaryMessage
				if msg.text {
					msgType = websocket.TextMessage
				}
				if err := conn.WriteMessage(msgType, msg.data); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	sender := &wsSender{ctx: ctx, outbound: outbound, metrics: s.metrics}

	// Turns run strictly one at a time per call; a barge-in raises the stop
	// flag so the running turn yields before the queued one starts.
	utterances := make(chan []byte, 4)
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case utterance, ok := <-utterances:
				if !ok {
					return
				}
				if err := s.runner.Run(ctx, c, sender, utterance); err != nil && ctx.Err() == nil {
					s.log.Errorw("turn failed", "call_id", c.ID, "err", err)
				}
			}
		}
	}()

	conn.SetReadLimit(8 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		c.Touch()

		switch msgType {
		case websocket.BinaryMessage:
			s.metrics.WSMessages.WithLabelValues("inbound", "utterance").Inc()
			utterance := make([]byte, len(data))
			copy(utterance, data)
			select {
			case utterances <- utterance:
			default:
				// The client is sending utterances faster than turns
				// complete; drop rather than stall control messages.
				s.metrics.CallEvents.WithLabelValues("utterance_dropped").Inc()
				s.log.Warnw("utterance dropped, turn queue full", "call_id", c.ID)
			}
		case websocket.TextMessage:
			msg, err := protocol.ParseControl(data)
			if err != nil {
				s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
				s.log.Debugw("ignoring control message", "call_id", c.ID, "err", err)
				continue
			}
			s.metrics.WSMessages.WithLabelValues("inbound", msg.Event).Inc()
			switch msg.Event {
			case protocol.EventStopTTS:
				c.Stop()
				s.metrics.CallEvents.WithLabelValues("barge_in").Inc()
			case protocol.EventEndCall:
				s.endCall(c)
				break readLoop
			}
		}
	}

	cancel()
	<-runnerDone
	<-writerDone
	s.calls.Remove(c.ID)
	s.metrics.ActiveCalls.Set(float64(s.calls.ActiveCount()))
	s.metrics.CallEvents.WithLabelValues("disconnected").Inc()
	s.log.Infow("call disconnected", "call_id", c.ID)
}

// endCall exports the recording before End discards it.
func (s *Server) endCall(c *call.Call) {
	c.Stop()
	entries := c.AudioLog()
	defer c.End()

	s.metrics.CallEvents.WithLabelValues("ended").Inc()

	if s.cfg.RecordingDir == "" {
		s.log.Infow("call ended, recording discarded", "call_id", c.ID, "audio_entries", len(entries))
		return
	}
	wav, err := audio.ExportWAV(entries, s.cfg.ExportSampleRate)
	if err != nil {
		s.log.Errorw("recording export failed", "call_id", c.ID, "err", err)
		return
	}
	if wav == nil {
		s.log.Infow("call ended with no audio", "call_id", c.ID)
		return
	}
	path := filepath.Join(s.cfg.RecordingDir, c.ID+".wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		s.log.Errorw("recording write failed", "call_id", c.ID, "path", path, "err", err)
		return
	}
	s.log.Infow("recording saved", "call_id", c.ID, "path", path, "bytes", len(wav))
}

// Serve runs the HTTP server until ctx is cancelled, then drains with the
// configured shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.BindAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
