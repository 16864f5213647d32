package db

import (
	"context"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// MustOpen connects to Postgres with the pgx stdlib driver, panicking on
// failure. Callers pass a DATABASE_URL-style DSN.
func MustOpen(dsn string) *sqlx.DB {
	return sqlx.MustConnect("pgx", dsn)
}

// WithTx runs fn inside a transaction, rolling back on error.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
