// Package postgres provides a PostgreSQL-backed cache.Store on lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrMissingDSN = errors.New("postgres: DSN is required")
	ErrInvalidDSN = errors.New("postgres: invalid DSN")
)

// Open builds a pooled *sql.DB and checks that the server answers within the
// connect timeout.
func Open(ctx context.Context, opts ...Option) (*sql.DB, error) {
	return open(ctx, resolve(opts))
}

// Connect opens the database and returns a Store whose table exists.
func Connect(ctx context.Context, opts ...Option) (*Store, *sql.DB, error) {
	o := resolve(opts)
	db, err := open(ctx, o)
	if err != nil {
		return nil, nil, err
	}
	store := NewStore(db, WithTable(o.Table))
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

func open(ctx context.Context, o Options) (*sql.DB, error) {
	if o.DSN == "" {
		return nil, ErrMissingDSN
	}
	connector, err := pq.NewConnector(o.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(o.Pool.MaxOpen)
	db.SetMaxIdleConns(o.Pool.MaxIdle)
	db.SetConnMaxLifetime(o.Pool.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, o.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}
