package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultInstructions is the persona prompt template used when no instructions
// file is configured. Placeholders are resolved per call; unknown placeholders
// are preserved verbatim.
const DefaultInstructions = "You are {persona}. Today's date is {currentDate}. " +
	"Your knowledge cutoff is {knowledgeCutoff}. Keep replies short and " +
	"conversational; they will be spoken aloud."

// Config contains all runtime settings for the voice call service.
type Config struct {
	BindAddr              string
	ShutdownTimeout       time.Duration
	CallInactivityTimeout time.Duration
	MetricsNamespace      string
	AllowAnyOrigin        bool

	CartesiaAPIKey    string
	CartesiaWSBaseURL string
	CartesiaSTTModel  string
	CartesiaTTSModel  string
	CartesiaVoiceID   string
	CartesiaLanguage  string

	OpenAIAPIKey      string
	OpenAIModel       string
	AnthropicAPIKey   string
	AnthropicModel    string
	AnthropicMaxToken int
	GeminiAPIKey      string
	GeminiModel       string
	DefaultProvider   string
	KnowledgeCutoff   string
	Difficulty        string

	Instructions string

	// Audio on the wire is PCM16LE mono at WireSampleRate; recordings are
	// exported at ExportSampleRate.
	WireSampleRate   int
	ExportSampleRate int
	RecordingDir     string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("PARLEY_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("PARLEY_METRICS_NAMESPACE", "parley"),

		CartesiaWSBaseURL: envOrDefault("CARTESIA_WS_BASE_URL", "wss://api.cartesia.ai"),
		CartesiaSTTModel:  envOrDefault("CARTESIA_STT_MODEL_ID", "ink-whisper"),
		CartesiaTTSModel:  envOrDefault("CARTESIA_TTS_MODEL_ID", "sonic-2"),
		// Default voice matches the product's shipped persona voice.
		CartesiaVoiceID:  envOrDefault("CARTESIA_TTS_VOICE_ID", "031851ba-cc34-422d-bfdb-cdbb7f4651ee"),
		CartesiaLanguage: envOrDefault("CARTESIA_LANGUAGE", "en"),
		CartesiaAPIKey:   trimmedEnv("CARTESIA_API_KEY"),

		OpenAIAPIKey:      trimmedEnv("OPENAI_API_KEY"),
		OpenAIModel:       envOrDefault("OPENAI_MODEL_ID", "gpt-4.1-nano-2025-04-14"),
		AnthropicAPIKey:   trimmedEnv("ANTHROPIC_API_KEY"),
		AnthropicModel:    envOrDefault("ANTHROPIC_MODEL_ID", "claude-3-5-haiku-20241022"),
		AnthropicMaxToken: 1024,
		GeminiAPIKey:      trimmedEnv("GEMINI_API_KEY"),
		GeminiModel:       envOrDefault("GEMINI_MODEL_ID", "gemini-2.0-flash-lite-001"),
		DefaultProvider:   envOrDefault("PARLEY_DEFAULT_PROVIDER", "openai"),
		KnowledgeCutoff:   envOrDefault("PARLEY_KNOWLEDGE_CUTOFF", "2025-04-14"),
		Difficulty:        envOrDefault("PARLEY_DIFFICULTY", "Easy"),

		RecordingDir: trimmedEnv("PARLEY_RECORDING_DIR"),

		WireSampleRate:        16000,
		ExportSampleRate:      16000,
		ShutdownTimeout:       15 * time.Second,
		CallInactivityTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("PARLEY_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallInactivityTimeout, err = durationFromEnv("PARLEY_CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WireSampleRate, err = intFromEnv("PARLEY_WIRE_SAMPLE_RATE", cfg.WireSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.ExportSampleRate, err = intFromEnv("PARLEY_EXPORT_SAMPLE_RATE", cfg.ExportSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.AnthropicMaxToken, err = intFromEnv("ANTHROPIC_MAX_TOKENS", cfg.AnthropicMaxToken)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("PARLEY_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.Instructions = DefaultInstructions
	if path := trimmedEnv("PARLEY_INSTRUCTIONS_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read PARLEY_INSTRUCTIONS_FILE: %w", err)
		}
		cfg.Instructions = strings.TrimSpace(string(raw))
	}

	if cfg.WireSampleRate <= 0 {
		return Config{}, fmt.Errorf("PARLEY_WIRE_SAMPLE_RATE must be positive")
	}
	if cfg.ExportSampleRate <= 0 {
		return Config{}, fmt.Errorf("PARLEY_EXPORT_SAMPLE_RATE must be positive")
	}
	if cfg.AnthropicMaxToken <= 0 {
		return Config{}, fmt.Errorf("ANTHROPIC_MAX_TOKENS must be positive")
	}
	if cfg.CallInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("PARLEY_CALL_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch cfg.DefaultProvider {
	case "openai", "anthropic", "gemini":
	default:
		return Config{}, fmt.Errorf("invalid PARLEY_DEFAULT_PROVIDER: %q (expected openai|anthropic|gemini)", cfg.DefaultProvider)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
