package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/enijar/parley/internal/call"
	"github.com/enijar/parley/internal/config"
	"github.com/enijar/parley/internal/logging"
)

func TestStreamAnthropicParsesSSE(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`event: message_start`,
			`data: {"type":"message_start"}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":" world."}}`,
			``,
			`event: message_stop`,
			`data: {"type":"message_stop"}`,
			``,
		}
		for _, l := range lines {
			w.Write([]byte(l + "\n"))
		}
	}))
	defer srv.Close()

	cfg := &config.Config{
		AnthropicAPIKey:   "test-key",
		AnthropicModel:    "claude-3-5-haiku-20241022",
		AnthropicMaxToken: 1024,
	}
	s := NewService(cfg, logging.Nop())
	s.anthropicBaseURL = srv.URL

	history := []call.Turn{
		{Role: call.RoleUser, Text: "hi"},
	}
	var deltas []string
	err := s.streamAnthropic(context.Background(), "be brief", history, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("streamAnthropic error: %v", err)
	}
	if strings.Join(deltas, "") != "Hello world." {
		t.Fatalf("deltas = %q", deltas)
	}

	if gotReq.Model != "claude-3-5-haiku-20241022" || !gotReq.Stream {
		t.Fatalf("request = %+v", gotReq)
	}
	if gotReq.System != "be brief" || gotReq.MaxTokens != 1024 {
		t.Fatalf("request = %+v", gotReq)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", gotReq.Messages)
	}
}

func TestStreamAnthropicSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"type":"authentication_error"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := &config.Config{AnthropicModel: "m", AnthropicMaxToken: 64}
	s := NewService(cfg, logging.Nop())
	s.anthropicBaseURL = srv.URL

	err := s.streamAnthropic(context.Background(), "", nil, func(string) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want status 401 error", err)
	}
}
