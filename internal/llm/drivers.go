package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/personapack/botsuite/pkg/models"
)

// ── OpenAI-compatible Provider ──────────────────────────────

type openAIRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIDriver struct {
	client *http.Client
}

func (d *openAIDriver) Kind() string { return "openai" }

func (d *openAIDriver) Call(ctx context.Context, endpoint, apiKey string, req models.GenerateRequest) (string, error) {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if apiKey == "" {
		return "", fmt.Errorf("openai: api key not configured")
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	return chatCompletion(ctx, d.client, "openai", endpoint+"/chat/completions", headers, req)
}

// ── Ollama Provider ─────────────────────────────────────────

type ollamaDriver struct {
	client *http.Client
}

func (d *ollamaDriver) Kind() string { return "ollama" }

func (d *ollamaDriver) Call(ctx context.Context, endpoint, _ string, req models.GenerateRequest) (string, error) {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return chatCompletion(ctx, d.client, "ollama", endpoint+"/v1/chat/completions", nil, req)
}

func chatCompletion(ctx context.Context, client *http.Client, kind, url string, headers map[string]string, req models.GenerateRequest) (string, error) {
	body, err := json.Marshal(openAIRequest{Model: req.Model, Messages: req.Messages})
	if err != nil {
		return "", fmt.Errorf("%s: encode request: %w", kind, err)
	}
	var resp openAIResponse
	if err := postJSON(ctx, client, kind, url, headers, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices in response", kind)
	}
	return resp.Choices[0].Message.Content, nil
}

// ── Anthropic Provider ──────────────────────────────────────

type anthropicRequest struct {
	Model     string               `json:"model"`
	System    string               `json:"system,omitempty"`
	Messages  []models.ChatMessage `json:"messages"`
	MaxTokens int                  `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicDriver struct {
	client *http.Client
}

func (d *anthropicDriver) Kind() string { return "anthropic" }

func (d *anthropicDriver) Call(ctx context.Context, endpoint, apiKey string, req models.GenerateRequest) (string, error) {
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	if apiKey == "" {
		return "", fmt.Errorf("anthropic: api key not configured")
	}

	// System prompts travel in a separate field.
	areq := anthropicRequest{Model: req.Model, MaxTokens: 4096}
	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		areq.Messages = append(areq.Messages, m)
	}
	areq.System = strings.Join(system, "\n\n")

	body, err := json.Marshal(areq)
	if err != nil {
		return "", fmt.Errorf("anthropic: encode request: %w", err)
	}
	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": "2023-06-01",
	}
	var resp anthropicResponse
	if err := postJSON(ctx, d.client, "anthropic", endpoint+"/v1/messages", headers, body, &resp); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}

// ── HTTP Helpers ────────────────────────────────────────────

func postJSON(ctx context.Context, client *http.Client, kind, url string, headers map[string]string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", kind, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", kind, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		return fmt.Errorf("%s: status %d: %s", kind, httpResp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", kind, err)
	}
	return nil
}
