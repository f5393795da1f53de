package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    runner_number TEXT NOT NULL,
    finish_time INTEGER NOT NULL,
    recorded_at TEXT,
    UNIQUE (runner_number, finish_time)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS results (
    id BIGSERIAL PRIMARY KEY,
    runner_number TEXT NOT NULL,
    finish_time BIGINT NOT NULL,
    recorded_at TEXT,
    UNIQUE (runner_number, finish_time)
);
`

// createSchema is safe to call on every start.
func createSchema(ctx context.Context, db *sql.DB, driver string) error {
	schema := sqliteSchema
	if driver == DriverPostgres {
		schema = postgresSchema
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $1..$n for postgres.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
