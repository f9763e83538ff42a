package postgres

import (
	"fmt"
	"time"

	"github.com/corgi-proxy/corgi/internal/store"
)

// GetOptOut retrieves the cached opt-out status for an author.
// Returns (nil, nil) if no entry exists — callers must default-allow.
func (s *Store) GetOptOut(author string) (*store.OptOutEntry, error) {
	e := &store.OptOutEntry{AuthorHandle: author}
	err := s.db.QueryRow(`
		SELECT opted_out, fetched_at FROM opt_out_cache WHERE author_handle = $1`, author,
	).Scan(&e.OptedOut, &e.FetchedAt)
	if err != nil {
		return nil, nil //nolint:nilerr // no cached entry: caller must default-allow
	}
	return e, nil
}

// SetOptOut upserts the cached opt-out status for an author.
func (s *Store) SetOptOut(author string, optedOut bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO opt_out_cache (author_handle, opted_out, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (author_handle) DO UPDATE SET
			opted_out = excluded.opted_out,
			fetched_at = excluded.fetched_at`,
		author, optedOut, now,
	)
	if err != nil {
		return fmt.Errorf("postgres: set opt-out: %w", err)
	}
	return nil
}

// DeleteExpiredOptOut removes opt-out cache entries older than ttlHours.
func (s *Store) DeleteExpiredOptOut(ttlHours int) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(ttlHours) * time.Hour).Format(time.RFC3339)
	result, err := s.db.Exec("DELETE FROM opt_out_cache WHERE fetched_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired opt-out: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired opt-out rows affected: %w", err)
	}
	return n, nil
}
