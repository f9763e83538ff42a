package postgres

import (
	"fmt"
	"time"

	"github.com/corgi-proxy/corgi/internal/store"
)

// GetCache retrieves a cache row by its key.
func (s *Store) GetCache(key string) (*store.CacheRow, error) {
	c := &store.CacheRow{}
	err := s.db.QueryRow(`
		SELECT key, class, status_code, content_type, response_body, created_at, expires_at
		FROM cache WHERE key = $1`, key,
	).Scan(
		&c.Key, &c.Class, &c.StatusCode, &c.ContentType, &c.ResponseBody, &c.CreatedAt, &c.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: get cache %s: %w", key, err)
	}
	return c, nil
}

// SetCache inserts or replaces a cache row.
func (s *Store) SetCache(c *store.CacheRow) error {
	_, err := s.db.Exec(`
		INSERT INTO cache (key, class, status_code, content_type, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			class = excluded.class,
			status_code = excluded.status_code,
			content_type = excluded.content_type,
			response_body = excluded.response_body,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		c.Key, c.Class, c.StatusCode, c.ContentType, c.ResponseBody, c.CreatedAt, c.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: set cache: %w", err)
	}
	return nil
}

// DeleteExpiredCache removes all cache rows whose expires_at timestamp is
// in the past. It returns the number of rows deleted.
func (s *Store) DeleteExpiredCache() (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.Exec("DELETE FROM cache WHERE expires_at < $1", now)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired cache: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired cache rows affected: %w", err)
	}
	return n, nil
}
