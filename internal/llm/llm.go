// Package llm streams assistant replies from a configurable language model
// provider, replaying the full call history on every turn.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/enijar/parley/internal/call"
	"github.com/enijar/parley/internal/config"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

type EventType int

const (
	// EventPart carries one streamed text delta.
	EventPart EventType = iota
	// EventFinal carries the complete reply text. Emitted exactly once per
	// generation unless the call was stopped mid-stream.
	EventFinal
	// EventError carries a provider failure description.
	EventError
)

type Event struct {
	Type EventType
	Data string
}

// errStopped aborts a provider stream from inside the emit callback when the
// call's stop flag is raised. Not surfaced to consumers.
var errStopped = errors.New("generation stopped")

// streamFunc streams deltas for one generation, calling emit per delta.
type streamFunc func(ctx context.Context, system string, history []call.Turn, emit func(string) error) error

// Service fans a generation request out to the configured provider and turns
// the provider stream into Part/Final events.
type Service struct {
	cfg *config.Config
	log *zap.SugaredLogger

	streamers map[Provider]streamFunc

	// anthropicBaseURL overrides the Messages API endpoint in tests.
	anthropicBaseURL string
}

func NewService(cfg *config.Config, log *zap.SugaredLogger) *Service {
	s := &Service{cfg: cfg, log: log}
	s.streamers = map[Provider]streamFunc{
		ProviderOpenAI:    s.streamOpenAI,
		ProviderAnthropic: s.streamAnthropic,
		ProviderGemini:    s.streamGemini,
	}
	return s
}

// Generate appends the user turn plus a mutable assistant turn to the call
// history and streams the reply. Deltas arrive as EventPart; the filled
// assistant entry stays in history even if the stream is interrupted, so the
// model later sees exactly what the caller heard.
func (s *Service) Generate(ctx context.Context, c *call.Call, provider Provider, userText, persona string) (<-chan Event, error) {
	stream, ok := s.streamers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}

	c.AppendTurn(call.RoleUser, userText)
	history := c.History()
	idx := c.AppendTurn(call.RoleAssistant, "")

	system := injectVariables(s.cfg.Instructions, map[string]string{
		"persona":         persona,
		"currentDate":     time.Now().UTC().Format("2006-01-02"),
		"knowledgeCutoff": s.cfg.KnowledgeCutoff,
		"difficulty":      s.cfg.Difficulty,
	})

	events := make(chan Event, 64)
	go func() {
		defer close(events)

		err := stream(ctx, system, history, func(delta string) error {
			if c.Stopped() {
				return errStopped
			}
			c.AppendToTurn(idx, delta)
			events <- Event{Type: EventPart, Data: delta}
			return nil
		})
		if errors.Is(err, errStopped) || c.Stopped() {
			s.log.Debugw("generation interrupted", "call_id", c.ID, "provider", provider)
			return
		}
		if err != nil {
			s.log.Errorw("llm stream failed", "call_id", c.ID, "provider", provider, "err", err)
			events <- Event{Type: EventError, Data: err.Error()}
			return
		}
		events <- Event{Type: EventFinal, Data: c.TurnText(idx)}
	}()
	return events, nil
}
