// Package notify dispatches admin alerts about orders to registered alert
// drivers.
//
// Two drivers ship built in:
//  1. ChatDriver: messages every admin chat through the bot's messenger,
//     optionally with action buttons
//  2. WebhookDriver: POSTs the JSON event to a URL with an optional
//     HMAC-SHA256 signature
//
// Drivers are dispatched concurrently; a failing driver never blocks or
// fails the others, and never fails the caller.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/personapack/botsuite/pkg/contracts"
	"github.com/personapack/botsuite/pkg/models"
)

// Event is the alert payload.
type Event = contracts.AlertEvent

// NewEvent creates an Event for an order.
func NewEvent(eventType string, order *models.Order, message string) Event {
	e := Event{
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if order != nil {
		e.OrderID = order.ID
		e.UserID = order.Buyer
		e.Product = order.ProductCode
		e.Amount = order.Amount.String()
	}
	return e
}

// Result records the outcome of one driver dispatch.
type Result struct {
	Driver  string `json:"driver"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ── Service ──────────────────────────────────────────────────

// Service fans alerts out to every registered driver.
type Service struct {
	drivers map[string]contracts.AlertDriver
	drvMu   sync.RWMutex
}

// NewService creates a service with no drivers.
func NewService() *Service {
	return &Service{drivers: make(map[string]contracts.AlertDriver)}
}

// RegisterDriver adds or replaces the driver for its kind.
func (s *Service) RegisterDriver(driver contracts.AlertDriver) {
	s.drvMu.Lock()
	defer s.drvMu.Unlock()
	s.drivers[driver.Kind()] = driver
	log.Info().Str("kind", driver.Kind()).Msg("Registered alert driver")
}

// GetDriver returns the driver for kind, or nil.
func (s *Service) GetDriver(kind string) contracts.AlertDriver {
	s.drvMu.RLock()
	defer s.drvMu.RUnlock()
	return s.drivers[kind]
}

// Dispatch sends event through every driver concurrently and returns the
// results ordered by driver kind.
func (s *Service) Dispatch(ctx context.Context, event Event) []Result {
	s.drvMu.RLock()
	drivers := make([]contracts.AlertDriver, 0, len(s.drivers))
	for _, d := range s.drivers {
		drivers = append(drivers, d)
	}
	s.drvMu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []Result
	)
	for _, d := range drivers {
		wg.Add(1)
		go func(d contracts.AlertDriver) {
			defer wg.Done()
			r := Result{Driver: d.Kind(), Success: true}
			if err := d.Send(ctx, event); err != nil {
				r.Success = false
				r.Error = err.Error()
				log.Warn().Err(err).Str("driver", d.Kind()).Str("event", event.Type).Int64("order_id", event.OrderID).Msg("Alert failed")
			} else {
				log.Debug().Str("driver", d.Kind()).Str("event", event.Type).Int64("order_id", event.OrderID).Msg("Alert dispatched")
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(d)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Driver < results[j].Driver })
	return results
}

// Alert implements the dispatcher's alert sink.
func (s *Service) Alert(ctx context.Context, event Event) {
	s.Dispatch(ctx, event)
}

// ── Chat Driver ──────────────────────────────────────────────

// Actions returns the button rows attached to an admin alert, or nil.
type Actions func(event Event) [][]models.Button

// ChatDriver messages every admin through the messenger.
type ChatDriver struct {
	messenger contracts.Messenger
	admins    []int64
	actions   Actions
}

// NewChatDriver creates a chat driver for the given admin ids.
func NewChatDriver(m contracts.Messenger, admins []int64, actions Actions) *ChatDriver {
	return &ChatDriver{messenger: m, admins: admins, actions: actions}
}

// Kind returns "chat".
func (d *ChatDriver) Kind() string { return "chat" }

// Send messages each admin. Every admin is attempted; the joined error
// reports the ones that failed.
func (d *ChatDriver) Send(ctx context.Context, event Event) error {
	msg := models.Message{Text: FormatEvent(event)}
	if d.actions != nil {
		msg.Buttons = d.actions(event)
	}
	var errs []error
	for _, id := range d.admins {
		if _, err := d.messenger.Send(ctx, id, msg); err != nil {
			errs = append(errs, fmt.Errorf("admin %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

var eventTitles = map[string]string{
	contracts.AlertOrderAwaitingPayment: "💰 Заявка на подтверждение оплаты",
	contracts.AlertOrderConfirmed:       "✅ Оплата подтверждена, ссылки отправлены",
	contracts.AlertOrderRejected:        "❌ Оплата отклонена",
	contracts.AlertDeliveryFailed:       "⚠️ Оплата подтверждена, но ссылки не доставлены",
}

// FormatEvent renders an alert for a chat.
func FormatEvent(e Event) string {
	title, ok := eventTitles[e.Type]
	if !ok {
		title = "🔔 " + e.Type
	}
	var b strings.Builder
	b.WriteString(title)
	if e.OrderID != 0 {
		fmt.Fprintf(&b, "\nЗаказ: №%d", e.OrderID)
	}
	if e.UserID != 0 {
		fmt.Fprintf(&b, "\nПокупатель: %d", e.UserID)
	}
	if e.Product != "" {
		fmt.Fprintf(&b, "\nПродукт: %s", e.Product)
	}
	if e.Amount != "" {
		fmt.Fprintf(&b, "\nСумма: %s ₽", e.Amount)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, "\n\n%s", e.Message)
	}
	return b.String()
}

// ── Webhook Driver ───────────────────────────────────────────

// SignatureHeader carries "sha256=<hex hmac of the body>".
const SignatureHeader = "X-Botsuite-Signature"

const webhookAttempts = 3

// WebhookDriver POSTs alerts as JSON to a fixed URL.
type WebhookDriver struct {
	client     *http.Client
	url        string
	secret     string
	newBackOff func() backoff.BackOff
}

// NewWebhookDriver creates a webhook driver. An empty secret disables signing.
func NewWebhookDriver(url, secret string) *WebhookDriver {
	return &WebhookDriver{
		client: &http.Client{Timeout: 15 * time.Second},
		url:    url,
		secret: secret,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			return b
		},
	}
}

// WithBackOff overrides the pause between attempts.
func (d *WebhookDriver) WithBackOff(f func() backoff.BackOff) *WebhookDriver {
	d.newBackOff = f
	return d
}

// Kind returns "webhook".
func (d *WebhookDriver) Kind() string { return "webhook" }

// Send posts the event with up to three attempts.
func (d *WebhookDriver) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var sig string
	if d.secret != "" {
		sig = "sha256=" + Sign(d.secret, body)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Botsuite-Webhook/1.0")
		req.Header.Set("X-Botsuite-Event", event.Type)
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, d.url)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), webhookAttempts-1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("webhook failed after %d attempts: %w", webhookAttempts, err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
