package store

// schema returns the idempotent DDL for the dialect. Timestamps are stored
// as unix milliseconds and money as integer minor units so both dialects
// share the same column semantics.
func schema(d Dialect) []string {
	orderID := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d == DialectPostgres {
		orderID = "BIGSERIAL PRIMARY KEY"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS products (
			code        TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price       BIGINT NOT NULL,
			targets     TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			token      TEXT PRIMARY KEY,
			bot_name   TEXT NOT NULL,
			user_id    BIGINT NOT NULL,
			expires_at BIGINT,
			order_id   BIGINT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_order ON tokens (order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_expires ON tokens (expires_at)`,
		`CREATE TABLE IF NOT EXISTS allowed_users (
			user_id    BIGINT NOT NULL,
			bot_name   TEXT NOT NULL,
			granted_at BIGINT NOT NULL,
			PRIMARY KEY (user_id, bot_name)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id           ` + orderID + `,
			user_id      BIGINT NOT NULL,
			product_code TEXT NOT NULL REFERENCES products (code),
			amount       BIGINT NOT NULL,
			status       TEXT NOT NULL,
			created_at   BIGINT NOT NULL,
			updated_at   BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id)`,
	}
}
