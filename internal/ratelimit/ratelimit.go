// Package ratelimit enforces per-alias, per-endpoint-class sliding-window
// request ceilings with separate authenticated/anonymous limits.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/corgi-proxy/corgi/internal/apierr"
	"github.com/corgi-proxy/corgi/internal/config"
)

// window is a slice of request timestamps used to answer "how many
// requests occurred in the trailing N seconds". It is trimmed to the
// window on every call and never grows past the ceiling, so history stays
// bounded. Concurrency-safe per key via lazy-create-bucket locking.
type window struct {
	mu        sync.Mutex
	timestamps []time.Time
}

func (w *window) allow(now time.Time, span time.Duration, ceiling int) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-span)
	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept

	if len(w.timestamps) >= ceiling {
		oldest := w.timestamps[0]
		retryAfter := oldest.Add(span).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}

	w.timestamps = append(w.timestamps, now)
	return true, 0
}

// Limiter tracks sliding windows keyed by (alias, endpoint class). When
// cfg.Backend is "redis" the windows live in Redis sorted sets instead of
// process memory, so every corgi instance fronting the same upstream set
// shares one ceiling per alias; otherwise it falls back to the in-process
// map, which is correct for a single-instance deployment only.
type Limiter struct {
	cfg     config.RateLimitConfig
	mu      sync.RWMutex
	windows map[string]*window

	redisClient *redis.Client
	redisPrefix string
}

func New(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{cfg: cfg, windows: make(map[string]*window)}
	if cfg.Backend == "redis" && cfg.RedisAddr != "" {
		l.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		l.redisPrefix = "corgi:ratelimit:"
	}
	return l
}

// Close releases the Redis connection pool, if one was opened. A no-op for
// the in-process backend.
func (l *Limiter) Close() error {
	if l.redisClient != nil {
		return l.redisClient.Close()
	}
	return nil
}

func key(alias string, endpointClass string) string {
	return alias + "\x00" + endpointClass
}

func (l *Limiter) getOrCreate(k string) *window {
	l.mu.RLock()
	w, ok := l.windows[k]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[k]; ok {
		return w
	}
	w = &window{}
	l.windows[k] = w
	return w
}

// Allow checks whether a request from alias (for the given endpoint
// class) is within its ceiling. authenticated selects which ceiling
// applies.
func (l *Limiter) Allow(alias, endpointClass string, authenticated bool) error {
	if !l.cfg.Enabled {
		return nil
	}
	ceiling := l.cfg.AnonymousCeiling
	if authenticated {
		ceiling = l.cfg.AuthenticatedCeiling
	}
	if ceiling <= 0 {
		return nil
	}

	span := time.Duration(l.cfg.WindowSeconds) * time.Second
	if span <= 0 {
		span = time.Minute
	}

	var ok bool
	var retryAfter time.Duration
	if l.redisClient != nil {
		ok, retryAfter = l.allowRedis(key(alias, endpointClass), time.Now(), span, ceiling)
	} else {
		w := l.getOrCreate(key(alias, endpointClass))
		ok, retryAfter = w.allow(time.Now(), span, ceiling)
	}
	if !ok {
		return apierr.RateLimited(retryAfter.Seconds(), "rate_limited: alias %q exceeded %d requests per %s for %s", alias, ceiling, span, endpointClass)
	}
	return nil
}

// slidingWindowScript atomically trims a Redis sorted set to the current
// window, checks its cardinality against the ceiling, and either records
// the new request or reports when the oldest entry will fall out of the
// window. KEYS[1] is the sorted-set key; ARGV is now (seconds, float),
// window (seconds), ceiling, and a unique member for this request.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local ceiling = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= ceiling then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	return oldest[2]
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, math.floor(window * 1000))
return -1
`)

// allowRedis enforces the sliding window via the Lua script above so the
// trim-count-record sequence is atomic across concurrent callers and
// proxy instances.
func (l *Limiter) allowRedis(k string, now time.Time, span time.Duration, ceiling int) (bool, time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	nowSeconds := float64(now.UnixNano()) / 1e9
	member := uuid.NewString()

	result, err := slidingWindowScript.Run(ctx, l.redisClient, []string{l.redisPrefix + k},
		nowSeconds, span.Seconds(), ceiling, member).Float64()
	if err != nil {
		// Redis unavailable: fail open rather than block every request on a
		// dependency outage, matching the cache middleware's own degrade-
		// to-upstream behavior on a store miss.
		return true, 0
	}
	if result < 0 {
		return true, 0
	}

	expiresAtSeconds := result + span.Seconds()
	retryAfter := time.Duration((expiresAtSeconds - nowSeconds) * float64(time.Second))
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

// Reconfigure replaces the limiter's config and discards all tracked
// windows, taking effect on the next Allow call.
func (l *Limiter) Reconfigure(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.redisClient != nil {
		l.redisClient.Close()
		l.redisClient = nil
	}
	if cfg.Backend == "redis" && cfg.RedisAddr != "" {
		l.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	l.cfg = cfg
	l.windows = make(map[string]*window)
}
