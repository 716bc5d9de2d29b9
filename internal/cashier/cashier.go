// Package cashier implements the storefront bot: it lists the catalog,
// takes orders, hands out payment links and lets admins confirm payments.
package cashier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/personapack/botsuite/internal/access"
	"github.com/personapack/botsuite/internal/fulfillment"
	"github.com/personapack/botsuite/internal/orders"
	"github.com/personapack/botsuite/internal/payment"
	"github.com/personapack/botsuite/pkg/contracts"
	"github.com/personapack/botsuite/pkg/models"
)

// Callback data prefixes.
const (
	actionBuy       = "buy"
	actionPaid      = "paid"
	actionConfirm   = "confirm"
	actionReject    = "reject"
	actionRedeliver = "redeliver"
)

const (
	msgCatalog        = "Выберите продукт 👇"
	msgEmptyCatalog   = "Сейчас нет доступных продуктов."
	msgUnknownProduct = "Этот продукт больше не продаётся. Нажмите /start, чтобы обновить список."
	msgPaidThanks     = "🙏 Спасибо! Мы проверяем оплату и пришлём ссылки, как только она подтвердится."
	msgOrderClosed    = "Этот заказ уже обработан."
	msgUseStart       = "Нажмите /start, чтобы выбрать продукт."
	msgUnavailable    = "⚠️ Что-то пошло не так. Попробуйте ещё раз чуть позже."
	msgAdminOnly      = "Команда доступна только администраторам."
	msgGrantUsage     = "Использование: /grant <user_id> <бот> [срок, например 72h]"
)

// Cashier handles updates for the storefront bot.
type Cashier struct {
	catalog    *orders.Catalog
	ledger     *orders.Ledger
	dispatcher *fulfillment.Dispatcher
	tokens     *access.Service
	payments   *payment.Robokassa
	messenger  contracts.Messenger
	alerter    fulfillment.Alerter
	admins     map[int64]bool
	ttl        time.Duration
}

// New wires the cashier. ttl is the lifetime of manually granted tokens.
func New(catalog *orders.Catalog, ledger *orders.Ledger, d *fulfillment.Dispatcher, tokens *access.Service,
	payments *payment.Robokassa, m contracts.Messenger, adminIDs []int64, ttl time.Duration) *Cashier {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Cashier{
		catalog:    catalog,
		ledger:     ledger,
		dispatcher: d,
		tokens:     tokens,
		payments:   payments,
		messenger:  m,
		admins:     admins,
		ttl:        ttl,
	}
}

// WithAlerter routes payment claims to admins.
func (c *Cashier) WithAlerter(a fulfillment.Alerter) *Cashier {
	c.alerter = a
	return c
}

// Handle processes one update.
func (c *Cashier) Handle(ctx context.Context, u models.Update) error {
	eventID := uuid.NewString()
	ctx, span := otel.Tracer("botsuite/cashier").Start(ctx, "cashier.update")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", eventID),
		attribute.Int64("user.id", u.UserID),
	)
	logger := log.With().Str("event_id", eventID).Int64("user_id", u.UserID).Logger()

	if u.IsCallback() {
		if err := c.messenger.AnswerCallback(ctx, u.CallbackID, ""); err != nil {
			logger.Debug().Err(err).Msg("Answer callback failed")
		}
	}

	err := c.route(ctx, u, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Update handling failed")
		_ = c.reply(ctx, u.ChatID, msgUnavailable)
	}
	return err
}

func (c *Cashier) route(ctx context.Context, u models.Update, logger zerolog.Logger) error {
	switch {
	case u.Command == "start":
		return c.showCatalog(ctx, u.ChatID)
	case u.Command == "grant":
		if !c.admins[u.UserID] {
			return c.reply(ctx, u.ChatID, msgAdminOnly)
		}
		return c.grant(ctx, u.ChatID, u.Args, logger)
	case u.Command != "":
		return nil
	case !u.IsCallback():
		return c.reply(ctx, u.ChatID, msgUseStart)
	}

	action, arg, _ := strings.Cut(u.Data, ":")
	switch action {
	case actionBuy:
		return c.buy(ctx, u, arg, logger)
	case actionPaid:
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil
		}
		return c.paid(ctx, u, id, logger)
	case actionConfirm, actionReject, actionRedeliver:
		if !c.admins[u.UserID] {
			logger.Warn().Str("data", u.Data).Msg("Non-admin pressed an admin button")
			return nil
		}
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil
		}
		return c.reply(ctx, u.ChatID, c.adminAction(ctx, action, id))
	}
	logger.Debug().Str("data", u.Data).Msg("Unknown button")
	return nil
}

func (c *Cashier) showCatalog(ctx context.Context, chatID int64) error {
	products := c.catalog.Products()
	if len(products) == 0 {
		return c.reply(ctx, chatID, msgEmptyCatalog)
	}
	now := time.Now()
	var b strings.Builder
	b.WriteString(msgCatalog)
	rows := make([][]models.Button, 0, len(products))
	for i := range products {
		p := &products[i]
		price := c.catalog.EffectivePrice(p, now)
		fmt.Fprintf(&b, "\n\n• %s: %s ₽", p.Title, price)
		if price != p.BasePrice {
			fmt.Fprintf(&b, " (вместо %s ₽)", p.BasePrice)
		}
		if p.Description != "" {
			fmt.Fprintf(&b, "\n%s", p.Description)
		}
		rows = append(rows, []models.Button{{Text: p.Title, Data: actionBuy + ":" + p.Code}})
	}
	_, err := c.messenger.Send(ctx, chatID, models.Message{Text: b.String(), Buttons: rows})
	return err
}

func (c *Cashier) buy(ctx context.Context, u models.Update, code string, logger zerolog.Logger) error {
	order, err := c.ledger.Create(ctx, u.UserID, code)
	if errors.Is(err, orders.ErrUnknownProduct) {
		return c.reply(ctx, u.ChatID, msgUnknownProduct)
	}
	if err != nil {
		return err
	}
	title := code
	if p, ok := c.catalog.Product(code); ok && p.Title != "" {
		title = p.Title
	}
	logger.Info().Int64("order_id", order.ID).Str("product", code).Str("amount", order.Amount.String()).Msg("Order created")

	text := fmt.Sprintf("🧾 Заказ №%d\n%s\nК оплате: %s ₽\n\nПосле оплаты нажмите «Я оплатил(а)».",
		order.ID, title, order.Amount)
	rows := [][]models.Button{
		{{Text: "💳 Оплатить", URL: c.payments.PaymentURL(order.ID, order.Amount, title)}},
		{{Text: "✅ Я оплатил(а)", Data: fmt.Sprintf("%s:%d", actionPaid, order.ID)}},
	}
	_, err = c.messenger.Send(ctx, u.ChatID, models.Message{Text: text, Buttons: rows})
	return err
}

func (c *Cashier) paid(ctx context.Context, u models.Update, id int64, logger zerolog.Logger) error {
	order, err := c.ledger.Get(ctx, id)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if order.Buyer != u.UserID {
		logger.Warn().Int64("order_id", id).Msg("Payment claim for someone else's order")
		return nil
	}

	order, err = c.ledger.MarkAwaitingPayment(ctx, id)
	if errors.Is(err, orders.ErrInvalidTransition) {
		return c.reply(ctx, u.ChatID, msgOrderClosed)
	}
	if err != nil {
		return err
	}
	logger.Info().Int64("order_id", id).Msg("Buyer reported payment")
	if c.alerter != nil {
		c.alerter.Alert(ctx, contracts.AlertEvent{
			Type:      contracts.AlertOrderAwaitingPayment,
			OrderID:   order.ID,
			UserID:    order.Buyer,
			Product:   order.ProductCode,
			Amount:    order.Amount.String(),
			Timestamp: time.Now().UTC(),
		})
	}
	return c.reply(ctx, u.ChatID, msgPaidThanks)
}

// adminAction runs an admin decision on an order and describes the outcome.
func (c *Cashier) adminAction(ctx context.Context, action string, id int64) string {
	switch action {
	case actionConfirm:
		res, err := c.dispatcher.ConfirmPayment(ctx, id)
		return ConfirmOutcome(id, res, err)
	case actionReject:
		_, err := c.dispatcher.Reject(ctx, id)
		switch {
		case err == nil:
			return fmt.Sprintf("❌ Заказ №%d отклонён, покупатель уведомлён.", id)
		case errors.Is(err, orders.ErrOrderNotFound):
			return fmt.Sprintf("Заказ №%d не найден.", id)
		case errors.Is(err, orders.ErrInvalidTransition):
			return fmt.Sprintf("Заказ №%d уже оплачен, отклонить нельзя.", id)
		}
		log.Error().Err(err).Int64("order_id", id).Msg("Reject failed")
		return fmt.Sprintf("⚠️ Не удалось отклонить заказ №%d: %v", id, err)
	default:
		toks, err := c.dispatcher.Redeliver(ctx, id)
		switch {
		case err == nil && len(toks) == 0:
			return fmt.Sprintf("Все ссылки заказа №%d уже активированы.", id)
		case err == nil:
			return fmt.Sprintf("📨 Ссылки заказа №%d отправлены повторно.", id)
		case errors.Is(err, orders.ErrOrderNotFound):
			return fmt.Sprintf("Заказ №%d не найден.", id)
		case errors.Is(err, orders.ErrInvalidTransition):
			return fmt.Sprintf("Заказ №%d не оплачен.", id)
		}
		return fmt.Sprintf("⚠️ Ссылки заказа №%d снова не доставлены: %v", id, err)
	}
}

// ConfirmOutcome describes a ConfirmPayment result for an admin. Every
// outcome gets its own wording.
func ConfirmOutcome(id int64, res *fulfillment.Result, err error) string {
	switch {
	case errors.Is(err, fulfillment.ErrDeliveryFailed):
		return fmt.Sprintf("⚠️ Заказ №%d оплачен, ссылки созданы, но покупатель их не получил: %v\n"+
			"Ссылки действуют; отправьте их повторно, когда покупатель разблокирует бота.", id, res.DeliveryErr)
	case errors.Is(err, orders.ErrOrderNotFound):
		return fmt.Sprintf("Заказ №%d не найден.", id)
	case errors.Is(err, orders.ErrInvalidTransition):
		return fmt.Sprintf("Заказ №%d отклонён ранее, подтвердить нельзя.", id)
	case err != nil:
		log.Error().Err(err).Int64("order_id", id).Msg("Confirm failed")
		return fmt.Sprintf("⚠️ Не удалось подтвердить заказ №%d: %v", id, err)
	case res.AlreadyPaid:
		return fmt.Sprintf("Заказ №%d уже подтверждён ранее, новые ссылки не выпускались.", id)
	}
	return fmt.Sprintf("✅ Заказ №%d подтверждён, ссылки отправлены покупателю (%d шт.).", id, len(res.Tokens))
}

// AdminActions attaches decision buttons to admin alerts.
func AdminActions(e contracts.AlertEvent) [][]models.Button {
	switch e.Type {
	case contracts.AlertOrderAwaitingPayment:
		return [][]models.Button{{
			{Text: "✅ Подтвердить", Data: fmt.Sprintf("%s:%d", actionConfirm, e.OrderID)},
			{Text: "❌ Отклонить", Data: fmt.Sprintf("%s:%d", actionReject, e.OrderID)},
		}}
	case contracts.AlertDeliveryFailed:
		return [][]models.Button{{
			{Text: "📨 Отправить повторно", Data: fmt.Sprintf("%s:%d", actionRedeliver, e.OrderID)},
		}}
	}
	return nil
}

// grant mints a token by hand: /grant <user_id> <target> [ttl].
func (c *Cashier) grant(ctx context.Context, chatID int64, args string, logger zerolog.Logger) error {
	fields := strings.Fields(args)
	if len(fields) < 2 || len(fields) > 3 {
		return c.reply(ctx, chatID, msgGrantUsage)
	}
	owner, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return c.reply(ctx, chatID, msgGrantUsage)
	}
	target := fields[1]
	if _, ok := c.catalog.Bot(target); !ok {
		return c.reply(ctx, chatID, fmt.Sprintf("Неизвестный бот %q.", target))
	}
	ttl := c.ttl
	if len(fields) == 3 {
		if ttl, err = time.ParseDuration(fields[2]); err != nil || ttl < 0 {
			return c.reply(ctx, chatID, msgGrantUsage)
		}
	}

	tok, err := c.tokens.Issue(ctx, owner, target, ttl)
	if err != nil {
		return err
	}
	link, err := c.catalog.StartLink(target, tok.Token)
	if err != nil {
		return err
	}
	logger.Info().Int64("owner", owner).Str("target", target).Str("token", tok.Short()).Msg("Token granted by admin")
	return c.reply(ctx, chatID, fmt.Sprintf("🎟️ Ссылка для %d в %s:\n%s", owner, target, link))
}

func (c *Cashier) reply(ctx context.Context, chatID int64, text string) error {
	_, err := c.messenger.Send(ctx, chatID, models.Message{Text: text})
	return err
}
