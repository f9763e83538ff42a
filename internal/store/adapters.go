package store

import (
	"time"

	cachepkg "github.com/corgi-proxy/corgi/internal/cache"
)

// CacheAdapter adapts Store to the cache.CacheStore interface, translating
// between cache.CacheEntry (in-process shape) and the cache table's row
// shape (store.CacheRow).
type CacheAdapter struct {
	store Backend
}

// NewCacheAdapter creates a new CacheAdapter wrapping any Backend
// (embedded SQLite or networked Postgres).
func NewCacheAdapter(s Backend) *CacheAdapter {
	return &CacheAdapter{store: s}
}

// GetCache retrieves a cache entry by key.
func (a *CacheAdapter) GetCache(key string) (*cachepkg.CacheEntry, error) {
	row, err := a.store.GetCache(key)
	if err != nil {
		return nil, err
	}
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)
	expiresAt, _ := time.Parse(time.RFC3339, row.ExpiresAt)
	return &cachepkg.CacheEntry{
		Body:        row.ResponseBody,
		StatusCode:  row.StatusCode,
		ContentType: row.ContentType,
		Class:       row.Class,
		CreatedAt:   createdAt,
		ExpiresAt:   expiresAt,
	}, nil
}

// SetCache stores a cache entry.
func (a *CacheAdapter) SetCache(key string, entry *cachepkg.CacheEntry) error {
	return a.store.SetCache(&CacheRow{
		Key:          key,
		Class:        entry.Class,
		StatusCode:   entry.StatusCode,
		ContentType:  entry.ContentType,
		ResponseBody: entry.Body,
		CreatedAt:    entry.CreatedAt.Format(time.RFC3339),
		ExpiresAt:    entry.ExpiresAt.Format(time.RFC3339),
	})
}

// DeleteExpired removes all expired cache entries from the store.
func (a *CacheAdapter) DeleteExpired() error {
	_, err := a.store.DeleteExpiredCache()
	return err
}

var _ cachepkg.CacheStore = (*CacheAdapter)(nil)
