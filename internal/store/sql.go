package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/pkg/models"
)

// Dialect selects the SQL flavour and database/sql driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "pgx"
)

// SQLStore implements Store over database/sql.
type SQLStore struct {
	*sqlQueries
	db      *sql.DB
	dialect Dialect
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlQueries implements Queries against an execer.
type sqlQueries struct {
	ex      execer
	dialect Dialect
}

// Open connects to the database described by cfg and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*SQLStore, error) {
	dialect := Dialect(cfg.Driver)
	dsn := cfg.URL
	switch dialect {
	case DialectSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
		}
	case DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One writer per process; WAL still lets the other process read.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}

	s := &SQLStore{
		sqlQueries: &sqlQueries{ex: db, dialect: dialect},
		db:         db,
		dialect:    dialect,
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// OpenWithRetry keeps calling Open with exponential backoff until it succeeds,
// ctx is cancelled, or cfg.ConnectTimeout elapses.
func OpenWithRetry(ctx context.Context, cfg config.DatabaseConfig) (*SQLStore, error) {
	var s *SQLStore
	op := func() error {
		var err error
		s, err = Open(ctx, cfg)
		if err != nil {
			log.Warn().Err(err).Str("driver", cfg.Driver).Msg("Database not reachable, retrying")
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cfg.ConnectTimeout
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

// Ping checks if the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Dialect returns the active SQL dialect.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// WithTx runs fn in a transaction, retrying once on connection-class errors.
func (s *SQLStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	err := s.runTx(ctx, fn)
	if err != nil && isRetryable(err) && ctx.Err() == nil {
		log.Warn().Err(err).Msg("Transaction failed on connection error, retrying once")
		err = s.runTx(ctx, fn)
	}
	return err
}

func (s *SQLStore) runTx(ctx context.Context, fn func(q Queries) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqlQueries{ex: tx, dialect: s.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Migrate creates all tables and indexes if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	log.Debug().Str("dialect", string(s.dialect)).Msg("Schema ensured")
	return nil
}

// rebind rewrites ? placeholders into $N for PostgreSQL.
func (q *sqlQueries) rebind(query string) string {
	if q.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (q *sqlQueries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.ex.ExecContext(ctx, q.rebind(query), args...)
}

func (q *sqlQueries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.ex.QueryContext(ctx, q.rebind(query), args...)
}

func (q *sqlQueries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.ex.QueryRowContext(ctx, q.rebind(query), args...)
}

// ── Tokens ──────────────────────────────────────────────────

const tokenColumns = `token, bot_name, user_id, expires_at, order_id, created_at`

func (q *sqlQueries) InsertToken(ctx context.Context, t *models.CapabilityToken) error {
	// DO NOTHING keeps a postgres transaction usable after a collision, so
	// the caller can retry with a fresh value inside the same WithTx.
	res, err := q.exec(ctx,
		`INSERT INTO tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (token) DO NOTHING`,
		t.Token, t.Target, t.Owner, nullMillis(t.ExpiresAt), nullInt(t.OrderID), toMillis(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (q *sqlQueries) GetToken(ctx context.Context, token string) (*models.CapabilityToken, error) {
	row := q.queryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE token = ?`, token)
	t, err := scanToken(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "token", Key: models.ShortToken(token)}
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

func (q *sqlQueries) DeleteToken(ctx context.Context, token string) (bool, error) {
	res, err := q.exec(ctx, `DELETE FROM tokens WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("delete token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete token: %w", err)
	}
	return n == 1, nil
}

func (q *sqlQueries) ListTokensByOrder(ctx context.Context, orderID int64) ([]models.CapabilityToken, error) {
	rows, err := q.query(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE order_id = ? ORDER BY created_at, token`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var result []models.CapabilityToken
	for rows.Next() {
		t, err := scanToken(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (q *sqlQueries) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.exec(ctx,
		`DELETE FROM tokens WHERE expires_at IS NOT NULL AND expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}

func scanToken(scan func(dest ...any) error) (*models.CapabilityToken, error) {
	var (
		t         models.CapabilityToken
		expiresAt sql.NullInt64
		orderID   sql.NullInt64
		createdAt int64
	)
	if err := scan(&t.Token, &t.Target, &t.Owner, &expiresAt, &orderID, &createdAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		v := fromMillis(expiresAt.Int64)
		t.ExpiresAt = &v
	}
	if orderID.Valid {
		v := orderID.Int64
		t.OrderID = &v
	}
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}

// ── Grants ──────────────────────────────────────────────────

func (q *sqlQueries) InsertGrant(ctx context.Context, g *models.AccessGrant) error {
	_, err := q.exec(ctx,
		`INSERT INTO allowed_users (user_id, bot_name, granted_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, bot_name) DO NOTHING`,
		g.Owner, g.Target, toMillis(g.GrantedAt))
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func (q *sqlQueries) HasGrant(ctx context.Context, owner int64, target string) (bool, error) {
	n, err := q.CountGrants(ctx, owner, target)
	return n > 0, err
}

func (q *sqlQueries) CountGrants(ctx context.Context, owner int64, target string) (int, error) {
	var n int
	err := q.queryRow(ctx,
		`SELECT COUNT(*) FROM allowed_users WHERE user_id = ? AND bot_name = ?`, owner, target).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count grants: %w", err)
	}
	return n, nil
}

// ── Products ────────────────────────────────────────────────

func (q *sqlQueries) UpsertProduct(ctx context.Context, p *models.Product) error {
	targets, err := json.Marshal(p.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}
	_, err = q.exec(ctx,
		`INSERT INTO products (code, title, description, price, targets) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			price = excluded.price,
			targets = excluded.targets`,
		p.Code, p.Title, p.Description, int64(p.BasePrice), string(targets))
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (q *sqlQueries) GetProduct(ctx context.Context, code string) (*models.Product, error) {
	row := q.queryRow(ctx,
		`SELECT code, title, description, price, targets FROM products WHERE code = ?`, code)
	p, err := scanProduct(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "product", Key: code}
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (q *sqlQueries) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := q.query(ctx, `SELECT code, title, description, price, targets FROM products ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var result []models.Product
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func scanProduct(scan func(dest ...any) error) (*models.Product, error) {
	var (
		p       models.Product
		price   int64
		targets string
	)
	if err := scan(&p.Code, &p.Title, &p.Description, &price, &targets); err != nil {
		return nil, err
	}
	p.BasePrice = models.Money(price)
	if err := json.Unmarshal([]byte(targets), &p.Targets); err != nil {
		return nil, fmt.Errorf("decode targets of %s: %w", p.Code, err)
	}
	return &p, nil
}

// ── Orders ──────────────────────────────────────────────────

const orderColumns = `id, user_id, product_code, amount, status, created_at, updated_at`

func (q *sqlQueries) CreateOrder(ctx context.Context, o *models.Order) error {
	err := q.queryRow(ctx,
		`INSERT INTO orders (user_id, product_code, amount, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		o.Buyer, o.ProductCode, int64(o.Amount), string(o.Status), toMillis(o.CreatedAt), toMillis(o.UpdatedAt),
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (q *sqlQueries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	row := q.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "order", Key: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (q *sqlQueries) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Buyer != 0 {
		query += ` AND user_id = ?`
		args = append(args, filter.Buyer)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var result []models.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

func (q *sqlQueries) UpdateOrderStatus(ctx context.Context, id int64, from []models.OrderStatus, to models.OrderStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("update order status: no source states")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{string(to), toMillis(time.Now()), id}
	for _, s := range from {
		args = append(args, string(s))
	}
	res, err := q.exec(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return n == 1, nil
}

func scanOrder(scan func(dest ...any) error) (*models.Order, error) {
	var (
		o                    models.Order
		amount               int64
		status               string
		createdAt, updatedAt int64
	)
	if err := scan(&o.ID, &o.Buyer, &o.ProductCode, &amount, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	o.Amount = models.Money(amount)
	o.Status = models.OrderStatus(status)
	o.CreatedAt = fromMillis(createdAt)
	o.UpdatedAt = fromMillis(updatedAt)
	return &o, nil
}

// ── Helpers ─────────────────────────────────────────────────

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// isRetryable reports whether err indicates a broken or busy connection
// rather than a logical failure.
func isRetryable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		primary := liteErr.Code() & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
