package store

import (
	"fmt"
	"time"
)

// CacheRow represents a cached response row in the persistent cache table.
type CacheRow struct {
	Key          string
	Class        string
	StatusCode   int
	ContentType  string
	ResponseBody []byte
	CreatedAt    string
	ExpiresAt    string
}

// GetCache retrieves a cache row by its key.
// Returns sql.ErrNoRows (wrapped) if the key does not exist.
func (s *Store) GetCache(key string) (*CacheRow, error) {
	c := &CacheRow{}
	err := s.reader.QueryRow(`
		SELECT key, class, status_code, content_type, response_body, created_at, expires_at
		FROM cache WHERE key = ?`, key,
	).Scan(
		&c.Key, &c.Class, &c.StatusCode, &c.ContentType, &c.ResponseBody, &c.CreatedAt, &c.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get cache %s: %w", key, err)
	}
	return c, nil
}

// SetCache inserts or replaces a cache row.
func (s *Store) SetCache(c *CacheRow) error {
	_, err := s.writer.Exec(`
		INSERT OR REPLACE INTO cache (
			key, class, status_code, content_type, response_body, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Key, c.Class, c.StatusCode, c.ContentType, c.ResponseBody, c.CreatedAt, c.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("store: set cache: %w", err)
	}
	return nil
}

// DeleteExpiredCache removes all cache rows whose expires_at timestamp is
// in the past. It returns the number of rows deleted.
func (s *Store) DeleteExpiredCache() (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.writer.Exec("DELETE FROM cache WHERE expires_at < ?", now)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired cache: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete expired cache rows affected: %w", err)
	}
	return n, nil
}
