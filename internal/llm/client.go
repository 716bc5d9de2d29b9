// Package llm implements the text-generation collaborator.
//
// The Client forwards each request to one configured provider driver
// (OpenAI-compatible, Anthropic, Ollama) under a per-call timeout. Every
// failure, whatever its cause, is reported as ErrGenerationUnavailable so
// callers can degrade to static text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/pkg/contracts"
	"github.com/personapack/botsuite/pkg/models"
)

// ErrGenerationUnavailable wraps every provider failure.
var ErrGenerationUnavailable = errors.New("text generation unavailable")

// Client routes generation requests to the configured provider.
type Client struct {
	provider string
	endpoint string
	apiKey   string
	model    string
	timeout  time.Duration

	drivers map[string]contracts.ProviderDriver
	drvMu   sync.RWMutex
}

// NewClient creates a client with the built-in drivers registered.
func NewClient(cfg config.LLMConfig) *Client {
	httpClient := &http.Client{}
	c := &Client{
		provider: strings.ToLower(cfg.Provider),
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		drivers:  make(map[string]contracts.ProviderDriver),
	}
	if c.provider == "" {
		c.provider = "openai"
	}
	c.RegisterDriver(&openAIDriver{client: httpClient})
	c.RegisterDriver(&anthropicDriver{client: httpClient})
	c.RegisterDriver(&ollamaDriver{client: httpClient})
	return c
}

// RegisterDriver adds or replaces a provider driver.
func (c *Client) RegisterDriver(d contracts.ProviderDriver) {
	c.drvMu.Lock()
	defer c.drvMu.Unlock()
	c.drivers[d.Kind()] = d
}

// GetDriver returns the driver for kind, or nil.
func (c *Client) GetDriver(kind string) contracts.ProviderDriver {
	c.drvMu.RLock()
	defer c.drvMu.RUnlock()
	return c.drivers[kind]
}

// Generate sends req to the configured provider and returns the text.
func (c *Client) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	ctx, span := otel.Tracer("botsuite/llm").Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", c.provider),
		attribute.String("llm.model", req.Model),
		attribute.String("llm.purpose", req.Purpose),
	)

	driver := c.GetDriver(c.provider)
	if driver == nil {
		err := fmt.Errorf("%w: no driver for provider %q", ErrGenerationUnavailable, c.provider)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := driver.Call(ctx, c.endpoint, c.apiKey, req)
	latency := time.Since(start)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).
			Str("provider", c.provider).
			Str("purpose", req.Purpose).
			Dur("latency", latency).
			Msg("Generation failed")
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	log.Debug().
		Str("provider", c.provider).
		Str("purpose", req.Purpose).
		Dur("latency", latency).
		Int("chars", len(text)).
		Msg("Generation completed")
	return strings.TrimSpace(text), nil
}
