package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/corgi-proxy/corgi/internal/pipeline"
)

// CacheEntry represents a cached proxied response with metadata.
type CacheEntry struct {
	Body        []byte    `json:"body"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Class       string    `json:"class"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired returns true if the entry has passed its expiration time.
func (e *CacheEntry) Expired() bool {
	return time.Now().After(e.ExpiresAt)
}

// CacheStore is the persistence interface for cached responses.
// Implementations exist for SQLite (internal/store) and Redis
// (internal/cache/redisstore), selected by config.Cache.Backend.
type CacheStore interface {
	GetCache(key string) (*CacheEntry, error)
	SetCache(key string, entry *CacheEntry) error
	DeleteExpired() error
}

// TTLs maps each content class to its time-to-live.
type TTLs struct {
	Home     time.Duration
	Profile  time.Duration
	Instance time.Duration
	Status   time.Duration
	Default  time.Duration
}

func (t TTLs) forClass(c ContentClass) time.Duration {
	switch c {
	case ContentHome:
		return t.Home
	case ContentProfile:
		return t.Profile
	case ContentInstance:
		return t.Instance
	case ContentStatus:
		return t.Status
	default:
		return t.Default
	}
}

// CacheMiddleware is a pipeline.Middleware that caches deterministic
// proxied responses in a two-tier cache (in-memory LRU + persistent
// store), keyed by a fingerprint that incorporates alias and upstream
// instance so no cached content crosses identity boundaries.
type CacheMiddleware struct {
	memory  *lru.Cache[string, *CacheEntry]
	store   CacheStore
	ttls    TTLs
	enabled bool

	aliasMu   sync.Mutex
	aliasKeys map[string]map[string]struct{}
}

var _ pipeline.Middleware = (*CacheMiddleware)(nil)

// NewCacheMiddleware creates a new CacheMiddleware.
//
//   - store is the persistent cache backend (may be nil for memory-only).
//   - ttls supplies the per-content-class time-to-live.
//   - maxMemoryEntries is the maximum number of entries in the in-memory LRU cache.
//   - enabled controls whether the middleware is active.
func NewCacheMiddleware(store CacheStore, ttls TTLs, maxMemoryEntries int, enabled bool) (*CacheMiddleware, error) {
	if maxMemoryEntries <= 0 {
		maxMemoryEntries = 1000
	}

	memCache, err := lru.New[string, *CacheEntry](maxMemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: creating LRU: %w", err)
	}

	return &CacheMiddleware{
		memory:    memCache,
		store:     store,
		ttls:      ttls,
		enabled:   enabled,
		aliasKeys: make(map[string]map[string]struct{}),
	}, nil
}

// Name returns the middleware name.
func (c *CacheMiddleware) Name() string {
	return "cache"
}

// Enabled reports whether this middleware is active.
func (c *CacheMiddleware) Enabled() bool {
	return c.enabled
}

// ProcessRequest checks the cache for a matching entry. If a cache hit is
// found and the entry is not expired, the request is flagged as a cache hit
// and a CachedResponse is stashed in metadata for the chain to short-circuit.
func (c *CacheMiddleware) ProcessRequest(ctx context.Context, req *pipeline.Request) (*pipeline.Request, error) {
	if !IsCacheable(req) {
		return req, nil
	}

	key := CacheKey(req.Alias, req.UpstreamInstance, req.Method, req.Path, req.Query)

	if req.Metadata == nil {
		req.Metadata = make(map[string]interface{})
	}
	req.Metadata["cache_key"] = key

	if entry, ok := c.memory.Get(key); ok {
		if !entry.Expired() {
			return c.buildCacheHit(req, entry)
		}
		c.memory.Remove(key)
	}

	if c.store != nil {
		entry, err := c.store.GetCache(key)
		if err == nil && entry != nil && !entry.Expired() {
			c.memory.Add(key, entry)
			return c.buildCacheHit(req, entry)
		}
	}

	return req, nil
}

func (c *CacheMiddleware) buildCacheHit(req *pipeline.Request, entry *CacheEntry) (*pipeline.Request, error) {
	if req.Flags == nil {
		req.Flags = make(map[string]bool)
	}
	req.Flags["cache_hit"] = true

	cached := &pipeline.CachedResponse{
		Body:        entry.Body,
		StatusCode:  entry.StatusCode,
		ContentType: entry.ContentType,
	}

	// Stored in request metadata, not via pipeline.WithCachedResponse,
	// because a new context returned from WithCachedResponse would never
	// reach the chain's caller.
	req.Metadata["cached_response"] = cached

	return req, nil
}

// ProcessResponse stores a cacheable response in both the in-memory LRU
// and the persistent store, with a TTL selected by the endpoint's content class.
func (c *CacheMiddleware) ProcessResponse(ctx context.Context, req *pipeline.Request, resp *pipeline.Response) (*pipeline.Response, error) {
	if !IsCacheable(req) {
		return resp, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	if req.Flags != nil && req.Flags["cache_hit"] {
		return resp, nil
	}

	key := ""
	if req.Metadata != nil {
		if k, ok := req.Metadata["cache_key"].(string); ok {
			key = k
		}
	}
	if key == "" {
		key = CacheKey(req.Alias, req.UpstreamInstance, req.Method, req.Path, req.Query)
	}

	class := ClassifyContent(req.Path)
	now := time.Now()
	entry := &CacheEntry{
		Body:        resp.Body,
		StatusCode:  resp.StatusCode,
		ContentType: "application/json",
		Class:       string(class),
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttls.forClass(class)),
	}

	c.memory.Add(key, entry)
	c.trackAliasKey(req.Alias, key)

	if c.store != nil {
		if err := c.store.SetCache(key, entry); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache: failed to persist entry")
		}
	}

	return resp, nil
}

// trackAliasKey records that key was written on behalf of alias, so
// InvalidateAlias can find it later without reversing the key's hash.
func (c *CacheMiddleware) trackAliasKey(alias, key string) {
	if alias == "" {
		return
	}
	c.aliasMu.Lock()
	defer c.aliasMu.Unlock()
	keys, ok := c.aliasKeys[alias]
	if !ok {
		keys = make(map[string]struct{})
		c.aliasKeys[alias] = keys
	}
	keys[key] = struct{}{}
}

// InvalidateAlias evicts every entry cached on behalf of alias from the
// in-memory tier. The persistent tier is left to its own TTL: per the
// shared cache-layer policy it is last-writer-wins, not strictly
// invalidated, so a short TTL on user-scoped content classes bounds the
// staleness window there.
func (c *CacheMiddleware) InvalidateAlias(alias string) error {
	c.aliasMu.Lock()
	keys := c.aliasKeys[alias]
	delete(c.aliasKeys, alias)
	c.aliasMu.Unlock()

	for key := range keys {
		c.memory.Remove(key)
	}
	return nil
}

// StartPurger starts a background goroutine that periodically purges
// expired entries from the persistent store and evicts expired entries
// from the in-memory LRU. It runs every 5 minutes until the context is
// cancelled. The returned channel is closed when the goroutine exits,
// allowing callers to synchronize shutdown before closing the store.
func (c *CacheMiddleware) StartPurger(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Error().Interface("panic", r).Msg("cache purger: recovered from panic")
						}
					}()
					c.purge()
				}()
			}
		}
	}()
	return done
}

// purge removes expired entries from both the persistent store and the
// in-memory LRU cache.
func (c *CacheMiddleware) purge() {
	if c.store != nil {
		_ = c.store.DeleteExpired()
	}

	keys := c.memory.Keys()
	for _, key := range keys {
		if entry, ok := c.memory.Peek(key); ok {
			if entry.Expired() {
				c.memory.Remove(key)
			}
		}
	}
}
