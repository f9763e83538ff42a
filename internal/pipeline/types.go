// Package pipeline implements the fixed augmentation chain that every
// augmentation-eligible proxied call runs through: identity already
// resolved by internal/proxy, then cache lookup, then the injector or
// interaction logger, then response finalization. Unlike a plugin
// system, the stage list is fixed at startup by the three-stage
// dispatch table; Chain only supplies the ordered-execution, timing,
// and panic-recovery discipline around it.
package pipeline

import (
	"context"
	"time"
)

// EndpointClass classifies a request for dispatch, caching, and metrics
// purposes.
type EndpointClass string

const (
	ClassMountPoint    EndpointClass = "mount_point"
	ClassAugmentation  EndpointClass = "augmentation"
	ClassPassThrough   EndpointClass = "pass_through"
)

// AliasTier records which identity-resolution tier produced the request's alias.
type AliasTier string

const (
	TierToken     AliasTier = "token"
	TierDevBypass AliasTier = "dev_bypass"
	TierAnonymous AliasTier = "anonymous"
)

// Request represents one proxied call flowing through the augmentation chain.
type Request struct {
	ID              string
	ReceivedAt      time.Time
	Method          string
	Path            string
	Query           map[string][]string
	Headers         map[string]string
	Body            []byte
	Alias           string
	AliasTier       AliasTier
	UpstreamInstance string
	Class           EndpointClass
	Flags           map[string]bool
	Metadata        map[string]interface{}
}

// Response represents the outgoing result of a proxied call.
type Response struct {
	RequestID      string
	StatusCode     int
	Body           []byte
	Headers        map[string]string
	CacheHit       bool
	UpstreamLatency time.Duration
	TotalLatency   time.Duration
	Synthesized    bool // true when failure policy substituted cold-start content
	Error          string
}

// CachedResponse is returned when a middleware short-circuits the chain
// with a cached result.
type CachedResponse struct {
	Body        []byte
	StatusCode  int
	ContentType string
	Headers     map[string]string
}

// contextKey is an unexported type for context keys in this package.
type contextKey string

const (
	cachedResponseKey    contextKey = "cached_response"
	middlewareTimingsKey contextKey = "middleware_timings"
)

// WithCachedResponse stores a CachedResponse in the context.
func WithCachedResponse(ctx context.Context, cr *CachedResponse) context.Context {
	return context.WithValue(ctx, cachedResponseKey, cr)
}

// GetCachedResponse retrieves a CachedResponse from the context, if present.
func GetCachedResponse(ctx context.Context) (*CachedResponse, bool) {
	cr, ok := ctx.Value(cachedResponseKey).(*CachedResponse)
	return cr, ok
}

// WithMiddlewareTimings stores the middleware timing map in the context.
func WithMiddlewareTimings(ctx context.Context, timings map[string]time.Duration) context.Context {
	return context.WithValue(ctx, middlewareTimingsKey, timings)
}

// GetMiddlewareTimings retrieves the middleware timing map from the context.
func GetMiddlewareTimings(ctx context.Context) (map[string]time.Duration, bool) {
	t, ok := ctx.Value(middlewareTimingsKey).(map[string]time.Duration)
	return t, ok
}
