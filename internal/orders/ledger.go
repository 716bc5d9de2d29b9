package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/personapack/botsuite/internal/store"
	"github.com/personapack/botsuite/pkg/models"
)

var (
	ErrUnknownProduct    = errors.New("unknown product")
	ErrInvalidTransition = errors.New("invalid order transition")
	ErrOrderNotFound     = errors.New("order not found")
)

var nonTerminal = []models.OrderStatus{models.OrderPending, models.OrderAwaitingPayment}

// Ledger records orders and enforces pending → awaiting_payment → paid,
// with rejected reachable from any non-terminal state.
type Ledger struct {
	store   store.Store
	catalog *Catalog
	now     func() time.Time
}

// NewLedger creates a ledger pricing orders from catalog.
func NewLedger(s store.Store, catalog *Catalog) *Ledger {
	return &Ledger{store: s, catalog: catalog, now: time.Now}
}

// WithClock overrides the time source used for promo windows.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Create opens a pending order for buyer, snapshotting the effective price.
func (l *Ledger) Create(ctx context.Context, buyer int64, code string) (*models.Order, error) {
	product, err := l.store.GetProduct(ctx, code)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, code)
	}
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	order := &models.Order{
		Buyer:       buyer,
		ProductCode: product.Code,
		Amount:      l.catalog.EffectivePrice(product, now),
		Status:      models.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	log.Info().
		Int64("order_id", order.ID).
		Int64("user_id", buyer).
		Str("product", code).
		Str("amount", order.Amount.String()).
		Msg("🧾 Order created")
	return order, nil
}

// Get returns an order by ID.
func (l *Ledger) Get(ctx context.Context, id int64) (*models.Order, error) {
	o, err := l.store.GetOrder(ctx, id)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return o, err
}

// List returns orders matching filter, newest first.
func (l *Ledger) List(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	return l.store.ListOrders(ctx, filter)
}

// Product returns the stored product referenced by an order.
func (l *Ledger) Product(ctx context.Context, q store.Queries, code string) (*models.Product, error) {
	p, err := q.GetProduct(ctx, code)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, code)
	}
	return p, err
}

// MarkAwaitingPayment records that the buyer reports having paid.
// Already awaiting is a no-op; a terminal order is an ErrInvalidTransition.
func (l *Ledger) MarkAwaitingPayment(ctx context.Context, id int64) (*models.Order, error) {
	var order *models.Order
	err := l.store.WithTx(ctx, func(q store.Queries) error {
		_, err := q.UpdateOrderStatus(ctx, id, []models.OrderStatus{models.OrderPending}, models.OrderAwaitingPayment)
		if err != nil {
			return err
		}
		order, err = l.load(ctx, q, id)
		if err != nil {
			return err
		}
		if order.Status != models.OrderAwaitingPayment {
			return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, order.Status, models.OrderAwaitingPayment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// MarkPaidTx moves the order to paid inside the caller's transaction and
// reports whether this call performed the transition. An already-paid
// order returns (false, order, nil) so duplicate confirmations are harmless.
func (l *Ledger) MarkPaidTx(ctx context.Context, q store.Queries, id int64) (bool, *models.Order, error) {
	changed, err := q.UpdateOrderStatus(ctx, id, nonTerminal, models.OrderPaid)
	if err != nil {
		return false, nil, err
	}
	order, err := l.load(ctx, q, id)
	if err != nil {
		return false, nil, err
	}
	if changed {
		log.Info().Int64("order_id", id).Msg("💰 Order marked paid")
		return true, order, nil
	}
	if order.Status == models.OrderPaid {
		return false, order, nil
	}
	return false, order, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, order.Status, models.OrderPaid)
}

// MarkRejected moves a non-terminal order to rejected and reports whether
// this call performed the transition. Rejecting twice is a no-op.
func (l *Ledger) MarkRejected(ctx context.Context, id int64) (bool, *models.Order, error) {
	var (
		changed bool
		order   *models.Order
	)
	err := l.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		changed, err = q.UpdateOrderStatus(ctx, id, nonTerminal, models.OrderRejected)
		if err != nil {
			return err
		}
		order, err = l.load(ctx, q, id)
		if err != nil {
			return err
		}
		if !changed && order.Status != models.OrderRejected {
			return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, order.Status, models.OrderRejected)
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	if changed {
		log.Info().Int64("order_id", id).Msg("🚫 Order rejected")
	}
	return changed, order, nil
}

func (l *Ledger) load(ctx context.Context, q store.Queries, id int64) (*models.Order, error) {
	o, err := q.GetOrder(ctx, id)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return o, err
}
