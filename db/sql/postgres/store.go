package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adeilh/rakhcache/cache"
)

const defaultTable = "cache_entries"

// ErrSchemaMissing is returned when the cache table has not been migrated.
var ErrSchemaMissing = errors.New("postgres: cache table missing, run Migrate")

// Store implements cache.Store with a single PostgreSQL table. Expired rows
// are invisible to reads and removed by PurgeExpired.
type Store struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

type StoreOption func(*Store)

// WithTable overrides the table name.
func WithTable(name string) StoreOption {
	return func(s *Store) {
		if name != "" {
			s.table = name
		}
	}
}

// WithNowFunc allows injecting a deterministic clock (useful for tests).
func WithNowFunc(fn func() time.Time) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewStore wraps an existing *sql.DB connection.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, table: defaultTable, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Migrate creates the cache table and its expiry index when missing.
func (s *Store) Migrate(ctx context.Context) error {
	return ApplyMigrations(ctx, s.db, Schema(s.table)...)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`, s.ident())
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, key, s.now().UTC()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return payload, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at, updated_at)
                   VALUES ($1, $2, $3, $4)
                   ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`, s.ident())
	now := s.now().UTC()
	var expires sql.NullTime
	if ttl > 0 {
		expires = sql.NullTime{Time: now.Add(ttl), Valid: true}
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, query, key, value, expires, now)
	return translateError(err)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.ident())
	res, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return translateError(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// DeleteKeys removes all listed keys in one statement.
func (s *Store) DeleteKeys(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ANY($1)`, s.ident())
	res, err := s.db.ExecContext(ctx, query, pq.Array(keys))
	if err != nil {
		return 0, translateError(err)
	}
	return res.RowsAffected()
}

// DeletePrefix removes every row whose key starts with prefix.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE starts_with(key, $1)`, s.ident())
	res, err := s.db.ExecContext(ctx, query, prefix)
	if err != nil {
		return 0, translateError(err)
	}
	return res.RowsAffected()
}

// PurgeExpired deletes rows whose TTL has elapsed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.ident())
	res, err := s.db.ExecContext(ctx, query, s.now().UTC())
	if err != nil {
		return 0, translateError(err)
	}
	return res.RowsAffected()
}

func (s *Store) ident() string {
	return pq.QuoteIdentifier(s.table)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
		return fmt.Errorf("%w: %s", ErrSchemaMissing, pqErr.Message)
	}
	return err
}
