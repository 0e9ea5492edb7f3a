package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/enijar/parley/internal/call"
	"github.com/enijar/parley/internal/config"
	"github.com/enijar/parley/internal/httpserver"
	"github.com/enijar/parley/internal/llm"
	"github.com/enijar/parley/internal/logging"
	"github.com/enijar/parley/internal/observability"
	"github.com/enijar/parley/internal/pipeline"
	"github.com/enijar/parley/internal/stt"
	"github.com/enijar/parley/internal/tts"
)

// speechStreams adapts the Cartesia client to the pipeline's per-turn stream
// factory.
type speechStreams struct {
	client *tts.Client
}

func (s speechStreams) OpenStream(ctx context.Context) (pipeline.SpeechStream, error) {
	return s.client.OpenStream(ctx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.New()
	defer logger.Sync()

	if cfg.CartesiaAPIKey == "" {
		logger.Fatalw("CARTESIA_API_KEY is required")
	}
	if cfg.RecordingDir != "" {
		if err := os.MkdirAll(cfg.RecordingDir, 0o755); err != nil {
			logger.Fatalw("recording dir unavailable", "dir", cfg.RecordingDir, "err", err)
		}
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	sttClient := stt.NewClient(stt.Config{
		APIKey:     cfg.CartesiaAPIKey,
		WSBaseURL:  cfg.CartesiaWSBaseURL,
		Model:      cfg.CartesiaSTTModel,
		Language:   cfg.CartesiaLanguage,
		SampleRate: cfg.WireSampleRate,
	}, logger)

	ttsClient := tts.NewClient(tts.Config{
		APIKey:     cfg.CartesiaAPIKey,
		WSBaseURL:  cfg.CartesiaWSBaseURL,
		Model:      cfg.CartesiaTTSModel,
		VoiceID:    cfg.CartesiaVoiceID,
		Language:   cfg.CartesiaLanguage,
		SampleRate: cfg.WireSampleRate,
	}, logger)

	generator := llm.NewService(&cfg, logger)

	turns := pipeline.New(sttClient, speechStreams{ttsClient}, generator, logger, metrics)
	turns.Provider = llm.Provider(cfg.DefaultProvider)
	turns.Persona = "a friendly voice assistant called Parley"

	calls := call.NewRegistry(cfg.CallInactivityTimeout)
	server := httpserver.New(cfg, calls, turns, metrics, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	calls.StartJanitor(runCtx, 5*time.Second)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Infow("shutdown signal received")
		runCancel()
	}()

	logger.Infow("server listening", "addr", cfg.BindAddr, "provider", cfg.DefaultProvider)
	if err := server.Serve(runCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalw("server error", "err", err)
	}
	logger.Infow("shutdown complete")
}
