// Package contracts defines the collaborator interfaces shared by the bot
// processes: the messaging transport, the text-generation provider and
// admin alert channels.
//
// Concrete implementations live under internal/ (messenger.Telegram,
// llm.Client, notify.WebhookDriver). Handlers depend on these interfaces
// only, so tests swap in fakes and main.go picks the implementation.
package contracts

import (
	"context"
	"time"

	"github.com/personapack/botsuite/pkg/models"
)

// ── Messenger ───────────────────────────────────────────────

// Messenger sends and edits chat messages on the messaging platform.
// Implementation: internal/messenger.Telegram
type Messenger interface {
	// Send delivers msg to chatID and returns the platform message id of the
	// last chunk sent.
	Send(ctx context.Context, chatID int64, msg models.Message) (int, error)

	// Edit replaces the text of a previously sent message.
	Edit(ctx context.Context, chatID int64, messageID int, text string) error

	// AnswerCallback acknowledges a button press, optionally with a toast.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// ── Text Generation ─────────────────────────────────────────

// Generator produces text from a role-tagged message list.
// Implementation: internal/llm.Client
type Generator interface {
	Generate(ctx context.Context, req models.GenerateRequest) (string, error)
}

// ProviderDriver is one text-generation backend registered in llm.Client.
// Built-in drivers: openai (and compatible), anthropic, ollama.
type ProviderDriver interface {
	// Kind returns the provider identifier (e.g. "openai").
	Kind() string

	// Call sends a chat completion request and returns the generated text.
	Call(ctx context.Context, endpoint, apiKey string, req models.GenerateRequest) (string, error)
}

// ── Alerts ──────────────────────────────────────────────────

// AlertEvent is an admin-facing notification about an order.
type AlertEvent struct {
	Type      string                 `json:"type"`
	OrderID   int64                  `json:"order_id,omitempty"`
	UserID    int64                  `json:"user_id,omitempty"`
	Product   string                 `json:"product,omitempty"`
	Amount    string                 `json:"amount,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// AlertDriver delivers AlertEvents to one kind of destination.
// Built-in drivers: chat (admin Telegram chats), webhook (HMAC-signed POST).
type AlertDriver interface {
	Kind() string
	Send(ctx context.Context, event AlertEvent) error
}

// Alert event types.
const (
	AlertOrderAwaitingPayment = "order_awaiting_payment"
	AlertOrderConfirmed       = "order_confirmed"
	AlertOrderRejected        = "order_rejected"
	AlertDeliveryFailed       = "delivery_failed"
)
