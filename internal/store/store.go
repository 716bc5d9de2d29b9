// Package store provides the durable storage interface shared by the
// conversational bots and the cashier. All handler code depends on this
// interface; the SQL implementation runs on SQLite (single host, tests) or
// PostgreSQL (shared server).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/personapack/botsuite/pkg/models"
)

// Store is the primary storage interface. Queries executed directly on the
// Store run in their own implicit transaction; multi-step invariants go
// through WithTx.
type Store interface {
	Queries

	// WithTx runs fn inside a single transaction. The transaction commits
	// when fn returns nil and rolls back otherwise. Connection-class failures
	// are retried once on a fresh connection.
	WithTx(ctx context.Context, fn func(q Queries) error) error

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates the schema. Safe to run on every start.
	Migrate(ctx context.Context) error
}

// Queries is the set of operations available both on the Store and inside
// a transaction.
type Queries interface {
	TokenStore
	GrantStore
	ProductStore
	OrderStore
}

// ── Token Store ─────────────────────────────────────────────

type TokenStore interface {
	// InsertToken stores a new token. Returns ErrConflict on a duplicate.
	InsertToken(ctx context.Context, token *models.CapabilityToken) error
	GetToken(ctx context.Context, token string) (*models.CapabilityToken, error)

	// DeleteToken removes the token and reports whether a row was removed,
	// so concurrent redemptions can be detected.
	DeleteToken(ctx context.Context, token string) (bool, error)

	ListTokensByOrder(ctx context.Context, orderID int64) ([]models.CapabilityToken, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// ── Grant Store ─────────────────────────────────────────────

type GrantStore interface {
	// InsertGrant is idempotent: an existing (owner, target) grant is kept.
	InsertGrant(ctx context.Context, grant *models.AccessGrant) error
	HasGrant(ctx context.Context, owner int64, target string) (bool, error)
	CountGrants(ctx context.Context, owner int64, target string) (int, error)
}

// ── Product Store ───────────────────────────────────────────

type ProductStore interface {
	UpsertProduct(ctx context.Context, product *models.Product) error
	GetProduct(ctx context.Context, code string) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
}

// ── Order Store ─────────────────────────────────────────────

// OrderFilter defines optional filters for listing orders.
type OrderFilter struct {
	Status models.OrderStatus // exact match when set
	Buyer  int64              // exact match when non-zero
	Limit  int                // max results (default 100)
}

type OrderStore interface {
	// CreateOrder inserts the order and fills in its ID.
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)

	// UpdateOrderStatus moves the order to status `to` only if its current
	// status is one of `from`. Reports whether the row changed.
	UpdateOrderStatus(ctx context.Context, id int64, from []models.OrderStatus, to models.OrderStatus) (bool, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is (or wraps) an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// ErrConflict is returned when an insert violates a uniqueness constraint.
var ErrConflict = errors.New("store: conflict")
