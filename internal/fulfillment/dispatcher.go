// Package fulfillment mints and delivers capability tokens for paid orders.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/personapack/botsuite/internal/access"
	"github.com/personapack/botsuite/internal/messenger"
	"github.com/personapack/botsuite/internal/orders"
	"github.com/personapack/botsuite/internal/store"
	"github.com/personapack/botsuite/pkg/contracts"
	"github.com/personapack/botsuite/pkg/models"
)

// ErrDeliveryFailed means the order is paid and its tokens exist, but the
// buyer could not be messaged. The tokens remain valid; use Redeliver.
var ErrDeliveryFailed = errors.New("delivery failed")

// Alert event types emitted by the dispatcher.
const (
	EventOrderConfirmed = contracts.AlertOrderConfirmed
	EventOrderRejected  = contracts.AlertOrderRejected
	EventDeliveryFailed = contracts.AlertDeliveryFailed
)

// Alerter receives admin-facing order events.
type Alerter interface {
	Alert(ctx context.Context, event contracts.AlertEvent)
}

// Result describes the outcome of a payment confirmation.
type Result struct {
	Order       *models.Order
	Tokens      []models.CapabilityToken
	AlreadyPaid bool
	Delivered   bool
	DeliveryErr error
}

// Dispatcher confirms payments and hands out start links.
type Dispatcher struct {
	store      store.Store
	ledger     *orders.Ledger
	tokens     *access.Service
	catalog    *orders.Catalog
	messenger  contracts.Messenger
	alerter    Alerter
	ttl        time.Duration
	newBackOff func() backoff.BackOff
}

// NewDispatcher wires the dispatcher. ttl is the lifetime of minted tokens.
func NewDispatcher(s store.Store, ledger *orders.Ledger, tokens *access.Service, catalog *orders.Catalog, m contracts.Messenger, ttl time.Duration) *Dispatcher {
	return &Dispatcher{
		store:      s,
		ledger:     ledger,
		tokens:     tokens,
		catalog:    catalog,
		messenger:  m,
		ttl:        ttl,
		newBackOff: deliveryBackOff,
	}
}

func deliveryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second
	return b
}

// WithAlerter routes order events to admins.
func (d *Dispatcher) WithAlerter(a Alerter) *Dispatcher {
	d.alerter = a
	return d
}

// WithBackOff overrides the delivery retry policy.
func (d *Dispatcher) WithBackOff(f func() backoff.BackOff) *Dispatcher {
	d.newBackOff = f
	return d
}

// ConfirmPayment marks the order paid and, only if this call performed the
// transition, mints one token per product target in the same transaction.
// Links are delivered after commit. A repeated confirmation returns
// AlreadyPaid and mints nothing.
func (d *Dispatcher) ConfirmPayment(ctx context.Context, orderID int64) (*Result, error) {
	ctx, span := otel.Tracer("botsuite/fulfillment").Start(ctx, "fulfillment.confirm")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	res := &Result{}
	err := d.store.WithTx(ctx, func(q store.Queries) error {
		res.Tokens = nil
		changed, order, err := d.ledger.MarkPaidTx(ctx, q, orderID)
		if err != nil {
			return err
		}
		res.Order = order
		if !changed {
			res.AlreadyPaid = true
			return nil
		}
		res.AlreadyPaid = false
		res.Tokens, err = d.mint(ctx, q, order)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if res.AlreadyPaid {
		log.Info().Int64("order_id", orderID).Msg("Order already paid, nothing to fulfill")
		return res, nil
	}

	log.Info().
		Int64("order_id", orderID).
		Int64("user_id", res.Order.Buyer).
		Int("tokens", len(res.Tokens)).
		Msg("🎟️ Tokens minted")

	if err := d.deliver(ctx, res.Order, res.Tokens); err != nil {
		res.DeliveryErr = err
		span.SetStatus(codes.Error, "delivery failed")
		d.alert(ctx, EventDeliveryFailed, res.Order, err.Error())
		return res, fmt.Errorf("%w: order %d: %v", ErrDeliveryFailed, orderID, err)
	}
	res.Delivered = true
	d.alert(ctx, EventOrderConfirmed, res.Order, "")
	return res, nil
}

// Redeliver re-sends the order's unredeemed tokens. It never mints.
func (d *Dispatcher) Redeliver(ctx context.Context, orderID int64) ([]models.CapabilityToken, error) {
	order, err := d.ledger.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPaid {
		return nil, fmt.Errorf("%w: order %d is %s", orders.ErrInvalidTransition, orderID, order.Status)
	}
	toks, err := d.store.ListTokensByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order tokens: %w", err)
	}
	if len(toks) == 0 {
		log.Info().Int64("order_id", orderID).Msg("All order tokens already redeemed")
		return nil, nil
	}
	if err := d.deliver(ctx, order, toks); err != nil {
		d.alert(ctx, EventDeliveryFailed, order, err.Error())
		return toks, fmt.Errorf("%w: order %d: %v", ErrDeliveryFailed, orderID, err)
	}
	log.Info().Int64("order_id", orderID).Int("tokens", len(toks)).Msg("Order links redelivered")
	return toks, nil
}

// Reject marks the order rejected and tells the buyer. Buyer notification
// failures are logged only.
func (d *Dispatcher) Reject(ctx context.Context, orderID int64) (*models.Order, error) {
	changed, order, err := d.ledger.MarkRejected(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}
	msg := models.Message{Text: fmt.Sprintf(
		"❌ Оплата заказа №%d не подтверждена. Если это ошибка, напишите нам, и мы разберёмся.", order.ID)}
	if _, err := d.messenger.Send(ctx, order.Buyer, msg); err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Msg("Failed to notify buyer about rejection")
	}
	d.alert(ctx, EventOrderRejected, order, "")
	return order, nil
}

func (d *Dispatcher) mint(ctx context.Context, q store.Queries, order *models.Order) ([]models.CapabilityToken, error) {
	product, err := d.ledger.Product(ctx, q, order.ProductCode)
	if err != nil {
		return nil, err
	}
	id := order.ID
	out := make([]models.CapabilityToken, 0, len(product.Targets))
	for _, target := range product.Targets {
		tok, err := d.tokens.IssueTx(ctx, q, order.Buyer, target, d.ttl, &id)
		if err != nil {
			return nil, fmt.Errorf("mint %s token: %w", target, err)
		}
		out = append(out, *tok)
	}
	return out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, order *models.Order, toks []models.CapabilityToken) error {
	msg, err := d.linkMessage(order, toks)
	if err != nil {
		return err
	}
	op := func() error {
		_, err := d.messenger.Send(ctx, order.Buyer, msg)
		if errors.Is(err, messenger.ErrBlocked) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Int64("order_id", order.ID).Dur("retry_in", wait).Msg("Link delivery failed, retrying")
	}
	return backoff.RetryNotify(op, backoff.WithContext(d.newBackOff(), ctx), notify)
}

func (d *Dispatcher) linkMessage(order *models.Order, toks []models.CapabilityToken) (models.Message, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Оплата заказа №%d подтверждена!\n\nВаши персональные ссылки:", order.ID)
	var rows [][]models.Button
	for _, tok := range toks {
		link, err := d.catalog.StartLink(tok.Target, tok.Token)
		if err != nil {
			return models.Message{}, err
		}
		title := tok.Target
		if bot, ok := d.catalog.Bot(tok.Target); ok && bot.Title != "" {
			title = bot.Title
		}
		fmt.Fprintf(&b, "\n• %s", title)
		rows = append(rows, []models.Button{{Text: "🚀 " + title, URL: link}})
	}
	b.WriteString("\n\nСсылки личные: они сработают только в вашем аккаунте и только один раз.")
	if d.ttl > 0 {
		fmt.Fprintf(&b, " Активируйте их в течение %s.", humanDuration(d.ttl))
	}
	return models.Message{Text: b.String(), Buttons: rows}, nil
}

func (d *Dispatcher) alert(ctx context.Context, kind string, order *models.Order, detail string) {
	if d.alerter == nil {
		return
	}
	d.alerter.Alert(ctx, contracts.AlertEvent{
		Type:      kind,
		OrderID:   order.ID,
		UserID:    order.Buyer,
		Product:   order.ProductCode,
		Amount:    order.Amount.String(),
		Message:   detail,
		Timestamp: time.Now().UTC(),
	})
}

func humanDuration(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%d дн.", int(d/(24*time.Hour)))
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d ч.", int(d/time.Hour))
	}
	return d.String()
}
