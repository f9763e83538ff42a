// Package postgres is the networked store backend: same store.Backend
// surface as the embedded SQLite implementation, backed by PostgreSQL via
// pgx/sqlx. Dialect differences (placeholder style, ON CONFLICT semantics,
// JSONB vs TEXT) are confined to this package; callers depend only on
// store.Backend.
package postgres

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/corgi-proxy/corgi/internal/store"
)

// Store is a PostgreSQL-backed implementation of store.Backend. Unlike the
// embedded SQLite backend it uses a single connection pool: Postgres's
// MVCC handles concurrent writers natively, so there is no need for the
// single-writer-connection pattern SQLite requires.
type Store struct {
	db *sqlx.DB
}

// Open connects to the PostgreSQL database at dsn and runs all pending
// migrations.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection pool is reachable.
func (s *Store) Ping() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Prune removes posts older than the freshness window and expired cache
// rows, mirroring the embedded backend's Prune semantics exactly.
func (s *Store) Prune(freshnessWindowDays int) (int64, error) {
	now := time.Now().UTC()
	postCutoff := now.AddDate(0, 0, -freshnessWindowDays).Format(time.RFC3339)
	nowStr := now.Format(time.RFC3339)
	var total int64

	queries := []struct {
		sql  string
		args []interface{}
	}{
		{"DELETE FROM posts WHERE discovered_at < $1", []interface{}{postCutoff}},
		{"DELETE FROM cache WHERE expires_at < $1", []interface{}{nowStr}},
	}

	for _, q := range queries {
		result, err := s.db.Exec(q.sql, q.args...)
		if err != nil {
			return total, fmt.Errorf("postgres: prune: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("postgres: prune rows affected: %w", err)
		}
		total += n
	}

	return total, nil
}

var _ store.Backend = (*Store)(nil)
