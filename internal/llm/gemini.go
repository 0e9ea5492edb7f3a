package llm

import (
	"context"

	"google.golang.org/genai"

	"github.com/enijar/parley/internal/call"
)

const (
	geminiTemperature     = 0.35
	geminiMaxOutputTokens = 4096
)

func (s *Service) streamGemini(ctx context.Context, system string, history []call.Turn, emit func(string) error) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return err
	}

	contents := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		// Gemini has no assistant role; model fills that slot.
		role := genai.RoleUser
		if t.Role == call.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, genai.Role(role)))
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](geminiTemperature),
		MaxOutputTokens:   geminiMaxOutputTokens,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	for resp, err := range client.Models.GenerateContentStream(ctx, s.cfg.GeminiModel, contents, cfg) {
		if err != nil {
			return err
		}
		if text := resp.Text(); text != "" {
			if err := emit(text); err != nil {
				return err
			}
		}
	}
	return nil
}
