package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/internal/llm"
	"github.com/personapack/botsuite/pkg/models"
)

// mockDriver is a test ProviderDriver.
type mockDriver struct {
	kind string
	text string
	err  error
}

func (d *mockDriver) Kind() string { return d.kind }
func (d *mockDriver) Call(_ context.Context, _, _ string, _ models.GenerateRequest) (string, error) {
	return d.text, d.err
}

func request(msgs ...string) models.GenerateRequest {
	req := models.GenerateRequest{Purpose: "test"}
	for i := 0; i+1 < len(msgs); i += 2 {
		req.Messages = append(req.Messages, models.ChatMessage{Role: msgs[i], Content: msgs[i+1]})
	}
	return req
}

func TestGenerate_OpenAI(t *testing.T) {
	var got struct {
		Model    string               `json:"model"`
		Messages []models.ChatMessage `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Отличный ответ!  "}}]}`))
	}))
	defer srv.Close()

	c := llm.NewClient(config.LLMConfig{Provider: "openai", Endpoint: srv.URL, APIKey: "sk-test", Model: "gpt-3.5-turbo"})
	text, err := c.Generate(context.Background(), request("system", "coach", "user", "hello"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "Отличный ответ!" {
		t.Errorf("Generate() = %q, want trimmed content", text)
	}
	if got.Model != "gpt-3.5-turbo" || len(got.Messages) != 2 {
		t.Errorf("request body = %+v", got)
	}
}

func TestGenerate_AnthropicSystemField(t *testing.T) {
	var got struct {
		System   string               `json:"system"`
		Messages []models.ChatMessage `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "ak" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic headers: %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]}`))
	}))
	defer srv.Close()

	c := llm.NewClient(config.LLMConfig{Provider: "anthropic", Endpoint: srv.URL, APIKey: "ak", Model: "claude"})
	text, err := c.Generate(context.Background(), request("system", "be brief", "user", "hi"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "part one part two" {
		t.Errorf("Generate() = %q", text)
	}
	if got.System != "be brief" || len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("request body = %+v, want system prompt split out", got)
	}
}

func TestGenerate_FailuresAreUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{
			name: "quota",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"insufficient_quota"}`, http.StatusTooManyRequests)
			},
		},
		{
			name: "malformed",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{not json`))
			},
		},
		{
			name: "empty",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
			},
		},
		{
			name:    "timeout",
			timeout: 50 * time.Millisecond,
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := llm.NewClient(config.LLMConfig{Provider: "ollama", Endpoint: srv.URL, Timeout: tt.timeout})
			_, err := c.Generate(context.Background(), request("user", "hi"))
			if !errors.Is(err, llm.ErrGenerationUnavailable) {
				t.Errorf("Generate() error = %v, want ErrGenerationUnavailable", err)
			}
		})
	}
}

func TestGenerate_UnknownProvider(t *testing.T) {
	c := llm.NewClient(config.LLMConfig{Provider: "bedrock"})
	if _, err := c.Generate(context.Background(), request("user", "hi")); !errors.Is(err, llm.ErrGenerationUnavailable) {
		t.Errorf("Generate() error = %v, want ErrGenerationUnavailable", err)
	}
}

func TestRegisterDriver_Overrides(t *testing.T) {
	c := llm.NewClient(config.LLMConfig{Provider: "openai"})
	c.RegisterDriver(&mockDriver{kind: "openai", text: "mock response"})

	text, err := c.Generate(context.Background(), request("user", "hi"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "mock response" {
		t.Errorf("Generate() = %q, want mock response", text)
	}
	if c.GetDriver("nonexistent") != nil {
		t.Error("GetDriver(nonexistent) should be nil")
	}
}
