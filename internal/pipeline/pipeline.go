// Package pipeline runs one conversation turn: transcribe the utterance,
// stream a reply from the language model and synthesize it sentence by
// sentence, so speech starts while the rest of the reply is still being
// generated.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enijar/parley/internal/call"
	"github.com/enijar/parley/internal/llm"
	"github.com/enijar/parley/internal/observability"
	"github.com/enijar/parley/internal/segment"
)

// ClarificationText is spoken when an utterance yields no transcript. The
// language model is not consulted; the line is recorded as an assistant turn
// so later turns see that the assistant asked for a repeat.
const ClarificationText = "Sorry, I didn't catch that. Could you say that again?"

type Transcriber interface {
	Transcribe(ctx context.Context, c *call.Call, pcm []byte) (string, error)
}

// Synthesizer opens one speech stream per turn. Streams for different calls
// are independent, so concurrent calls never wait on each other's synthesis.
type Synthesizer interface {
	OpenStream(ctx context.Context) (SpeechStream, error)
}

// SpeechStream synthesizes the sentences of one turn on a shared context.
type SpeechStream interface {
	Speak(ctx context.Context, c *call.Call, text, contextID string, cont bool, emit func([]byte) error) error
	Close()
}

type Generator interface {
	Generate(ctx context.Context, c *call.Call, provider llm.Provider, userText, persona string) (<-chan llm.Event, error)
}

// Sender delivers turn output to the connected client.
type Sender interface {
	SendAudio(pcm []byte) error
	SendEndOfTTS() error
}

type Pipeline struct {
	stt     Transcriber
	tts     Synthesizer
	llm     Generator
	log     *zap.SugaredLogger
	metrics *observability.Metrics

	// Provider and Persona are the defaults for calls that did not request
	// their own.
	Provider llm.Provider
	Persona  string
}

func New(stt Transcriber, tts Synthesizer, gen Generator, log *zap.SugaredLogger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{stt: stt, tts: tts, llm: gen, log: log, metrics: metrics}
}

// Run executes one turn for an utterance. It clears the call's stop flag
// first; a barge-in during the turn raises it again and every stage backs off
// at its next checkpoint. The end-of-speech marker closes every turn,
// interrupted or not, so the client's turn state always resolves.
func (p *Pipeline) Run(ctx context.Context, c *call.Call, sender Sender, utterance []byte) error {
	c.Start()
	c.Touch()
	turnStart := time.Now()

	provider := p.Provider
	if c.Provider != "" {
		provider = llm.Provider(c.Provider)
	}
	persona := p.Persona
	if c.Persona != "" {
		persona = c.Persona
	}

	transcript, err := p.stt.Transcribe(ctx, c, utterance)
	if err != nil {
		p.metrics.ProviderErrors.WithLabelValues("cartesia", "stt").Inc()
		p.log.Errorw("transcription failed", "call_id", c.ID, "err", err)
		return err
	}
	p.metrics.ObserveTurnStage(observability.StageSTT, time.Since(turnStart))
	if c.Stopped() {
		return sender.SendEndOfTTS()
	}

	transcript = strings.TrimSpace(transcript)
	p.log.Debugw("utterance transcribed", "call_id", c.ID, "chars", len(transcript))

	outcome := "completed"
	if transcript == "" {
		outcome = "clarification"
		if err := p.speakClarification(ctx, c, sender); err != nil {
			return err
		}
	} else if err := p.respond(ctx, c, sender, provider, persona, transcript, turnStart); err != nil {
		return err
	}

	if !c.Stopped() {
		p.metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(turnStart))
		p.metrics.Turns.WithLabelValues(string(provider), outcome).Inc()
	}
	return sender.SendEndOfTTS()
}

func (p *Pipeline) speakClarification(ctx context.Context, c *call.Call, sender Sender) error {
	c.AppendTurn(call.RoleAssistant, ClarificationText)
	stream, err := p.openStream(ctx, c)
	if err != nil {
		return err
	}
	defer stream.Close()
	return p.speak(ctx, stream, c, sender, ClarificationText, uuid.NewString(), false, nil)
}

func (p *Pipeline) respond(ctx context.Context, c *call.Call, sender Sender, provider llm.Provider, persona, transcript string, turnStart time.Time) error {
	stream, err := p.openStream(ctx, c)
	if err != nil {
		return err
	}
	defer stream.Close()

	events, err := p.llm.Generate(ctx, c, provider, transcript, persona)
	if err != nil {
		return err
	}
	// The generator keeps streaming into the channel; drain whatever is left
	// on early returns so it never blocks.
	defer func() {
		go func() {
			for range events {
			}
		}()
	}()

	seg := segment.New()
	contextID := uuid.NewString()
	spoken := 0
	sawDelta := false
	var firstAudio *time.Time

	speakSentence := func(sentence string) error {
		ttsStart := time.Now()
		gotChunk := false
		err := p.speak(ctx, stream, c, sender, sentence, contextID, spoken > 0, func() {
			if !gotChunk {
				gotChunk = true
				p.metrics.ObserveTurnStage(observability.StageTTSFirstChunk, time.Since(ttsStart))
			}
			if firstAudio == nil {
				now := time.Now()
				firstAudio = &now
				p.metrics.ObserveTurnStage(observability.StageFirstAudio, now.Sub(turnStart))
			}
		})
		if err != nil {
			return err
		}
		spoken++
		return nil
	}

	for ev := range events {
		switch ev.Type {
		case llm.EventPart:
			if !sawDelta {
				sawDelta = true
				p.metrics.ObserveTurnStage(observability.StageLLMFirstDelta, time.Since(turnStart))
			}
			for _, sentence := range seg.Push(ev.Data) {
				if c.Stopped() {
					return nil
				}
				if err := speakSentence(sentence); err != nil {
					return err
				}
			}
		case llm.EventFinal:
			if rest, ok := seg.Flush(); ok && !c.Stopped() {
				if err := speakSentence(rest); err != nil {
					return err
				}
			}
		case llm.EventError:
			p.metrics.ProviderErrors.WithLabelValues(string(provider), "stream").Inc()
			// The turn ends with whatever was already spoken; history
			// keeps the partial reply.
			return nil
		}
	}
	return nil
}

func (p *Pipeline) openStream(ctx context.Context, c *call.Call) (SpeechStream, error) {
	stream, err := p.tts.OpenStream(ctx)
	if err != nil {
		p.metrics.ProviderErrors.WithLabelValues("cartesia", "tts").Inc()
		p.log.Errorw("speech stream unavailable", "call_id", c.ID, "err", err)
		return nil, err
	}
	return stream, nil
}

func (p *Pipeline) speak(ctx context.Context, stream SpeechStream, c *call.Call, sender Sender, text, contextID string, cont bool, onChunk func()) error {
	err := stream.Speak(ctx, c, text, contextID, cont, func(pcm []byte) error {
		if onChunk != nil {
			onChunk()
		}
		return sender.SendAudio(pcm)
	})
	if err != nil {
		p.metrics.ProviderErrors.WithLabelValues("cartesia", "tts").Inc()
		p.log.Errorw("synthesis failed", "call_id", c.ID, "err", err)
	}
	return err
}
