package store

import (
	"fmt"
	"time"
)

// OptOutEntry caches whether an author has opted out of recommendation
//. TTL is enforced by DeleteExpiredOptOut, which the
// lifecycle sweep runs; GetOptOut does not check FetchedAt. Default-allow
// applies when no entry exists or a refresh attempt fails.
type OptOutEntry struct {
	AuthorHandle string
	OptedOut     bool
	FetchedAt    string
}

// GetOptOut retrieves the cached opt-out status for an author.
// Returns (nil, nil) if no entry exists — callers must default-allow.
func (s *Store) GetOptOut(author string) (*OptOutEntry, error) {
	e := &OptOutEntry{AuthorHandle: author}
	var optedOutInt int
	err := s.reader.QueryRow(`
		SELECT opted_out, fetched_at FROM opt_out_cache WHERE author_handle = ?`, author,
	).Scan(&optedOutInt, &e.FetchedAt)
	if err != nil {
		return nil, nil //nolint:nilerr // no cached entry: caller must default-allow
	}
	e.OptedOut = optedOutInt != 0
	return e, nil
}

// SetOptOut upserts the cached opt-out status for an author.
func (s *Store) SetOptOut(author string, optedOut bool) error {
	optedOutInt := 0
	if optedOut {
		optedOutInt = 1
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.writer.Exec(`
		INSERT INTO opt_out_cache (author_handle, opted_out, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(author_handle) DO UPDATE SET
			opted_out = excluded.opted_out,
			fetched_at = excluded.fetched_at`,
		author, optedOutInt, now,
	)
	if err != nil {
		return fmt.Errorf("store: set opt-out: %w", err)
	}
	return nil
}

// DeleteExpiredOptOut removes opt-out cache entries older than ttlHours.
func (s *Store) DeleteExpiredOptOut(ttlHours int) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(ttlHours) * time.Hour).Format(time.RFC3339)
	result, err := s.writer.Exec("DELETE FROM opt_out_cache WHERE fetched_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired opt-out: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete expired opt-out rows affected: %w", err)
	}
	return n, nil
}
