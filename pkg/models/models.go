// Package models defines the shared domain types of the bot suite:
// capability tokens, access grants, the product catalog and orders.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ── Capability Tokens ───────────────────────────────────────

// CapabilityToken is a single-use credential granting one user access to one
// target bot. ExpiresAt is nil for tokens that never expire.
type CapabilityToken struct {
	Token     string     `json:"token" db:"token"`
	Target    string     `json:"target" db:"bot_name"`
	Owner     int64      `json:"owner" db:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	OrderID   *int64     `json:"order_id,omitempty" db:"order_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *CapabilityToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Short returns a log-safe prefix of the token.
func (t *CapabilityToken) Short() string {
	return ShortToken(t.Token)
}

// ShortToken returns the first four characters of a token for logging.
func ShortToken(token string) string {
	if len(token) <= 4 {
		return token
	}
	return token[:4] + "…"
}

// AccessGrant records that Owner may use the Target bot.
type AccessGrant struct {
	Owner     int64     `json:"owner" db:"user_id"`
	Target    string    `json:"target" db:"bot_name"`
	GrantedAt time.Time `json:"granted_at" db:"granted_at"`
}

// ── Money ───────────────────────────────────────────────────

// Money is an amount in minor currency units (kopecks).
type Money int64

// String renders the amount with two decimals, e.g. "2490.00".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseMoney parses "2490", "2490.5" or "2490.00" into Money.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("parse amount %q: expected at most two decimals", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", s, err)
		}
	}
	if strings.HasPrefix(whole, "-") {
		return Money(units*100 - cents), nil
	}
	return Money(units*100 + cents), nil
}

// MarshalJSON encodes the amount as a decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.String())), nil
}

// UnmarshalJSON accepts "2490.00" or a bare number.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// UnmarshalYAML lets catalog files write prices as 2490 or "2490.00".
func (m *Money) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	v, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ── Catalog ─────────────────────────────────────────────────

// Product is a purchasable catalog entry. Targets lists the bots a buyer
// receives access to, in delivery order.
type Product struct {
	Code        string   `json:"code" yaml:"code" db:"code"`
	Title       string   `json:"title" yaml:"title" db:"title"`
	Description string   `json:"description,omitempty" yaml:"description" db:"description"`
	BasePrice   Money    `json:"price" yaml:"price" db:"price"`
	Targets     []string `json:"targets" yaml:"targets" db:"targets"`
}

// Promo shadows a product's base price inside an optional time window.
type Promo struct {
	Code     string     `json:"code" yaml:"code"`
	Price    Money      `json:"price" yaml:"price"`
	StartsAt *time.Time `json:"starts_at,omitempty" yaml:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty" yaml:"ends_at"`
}

// Active reports whether the promo applies at now.
func (p *Promo) Active(now time.Time) bool {
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && !now.Before(*p.EndsAt) {
		return false
	}
	return true
}

// ── Orders ──────────────────────────────────────────────────

// OrderStatus is the forward-only order lifecycle.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderAwaitingPayment OrderStatus = "awaiting_payment"
	OrderPaid            OrderStatus = "paid"
	OrderRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderRejected
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderAwaitingPayment, OrderPaid, OrderRejected:
		return true
	}
	return false
}

// Order is a purchase intent. Amount is the price snapshot taken at creation.
type Order struct {
	ID          int64       `json:"id" db:"id"`
	Buyer       int64       `json:"buyer" db:"user_id"`
	ProductCode string      `json:"product_code" db:"product_code"`
	Amount      Money       `json:"amount" db:"amount"`
	Status      OrderStatus `json:"status" db:"status"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// ── Messaging ───────────────────────────────────────────────

// Button is an inline choice. Exactly one of Data or URL is set.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Message is an outbound chat message with optional button rows.
type Message struct {
	Text     string     `json:"text"`
	Buttons  [][]Button `json:"buttons,omitempty"`
	Markdown bool       `json:"markdown,omitempty"`
}

// Update is one inbound event from the messaging platform: a command, a
// free-text message, or a button press (CallbackID and Data set).
type Update struct {
	ID         string `json:"id"`
	ChatID     int64  `json:"chat_id"`
	UserID     int64  `json:"user_id"`
	Text       string `json:"text,omitempty"`
	Command    string `json:"command,omitempty"`
	Args       string `json:"args,omitempty"`
	CallbackID string `json:"callback_id,omitempty"`
	Data       string `json:"data,omitempty"`
	MessageID  int    `json:"message_id,omitempty"`
}

// IsCallback reports whether the update is a button press.
func (u *Update) IsCallback() bool {
	return u.CallbackID != ""
}

// ── Text Generation ─────────────────────────────────────────

// ChatMessage is one role-tagged entry of a generation request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is sent to the text-generation collaborator.
type GenerateRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages"`
	Purpose  string        `json:"-"`
}
