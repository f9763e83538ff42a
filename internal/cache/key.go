package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/corgi-proxy/corgi/internal/pipeline"
)

// ContentClass buckets a cacheable endpoint for TTL selection.
type ContentClass string

const (
	ContentHome     ContentClass = "home"
	ContentProfile  ContentClass = "profile"
	ContentInstance ContentClass = "instance"
	ContentStatus   ContentClass = "status"
	ContentDefault  ContentClass = "default"
)

// ClassifyContent maps a request path to the TTL bucket it belongs to.
// Unrecognized paths fall back to ContentDefault.
func ClassifyContent(path string) ContentClass {
	switch {
	case strings.Contains(path, "/timelines/home"), strings.Contains(path, "/timelines/recommended"):
		return ContentHome
	case strings.Contains(path, "/accounts/"):
		return ContentProfile
	case strings.Contains(path, "/instance"):
		return ContentInstance
	case strings.Contains(path, "/statuses/"):
		return ContentStatus
	default:
		return ContentDefault
	}
}

// CacheKey computes a deterministic, collision-resistant SHA-256 cache key
// from the identity, upstream instance, and request shape. The key must
// be stable across requests that are semantically identical and must
// incorporate the alias so that one user's cached timeline is never
// served to another.
func CacheKey(alias, upstreamInstance, method, path string, query map[string][]string) string {
	h := sha256.New()
	h.Write([]byte(alias))
	h.Write([]byte{0})
	h.Write([]byte(upstreamInstance))
	h.Write([]byte{0})
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})

	// Canonicalize query parameters: sorted keys, sorted values, so that
	// equivalent requests with differently-ordered params hash identically.
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(strings.Join(vals, ",")))
		h.Write([]byte{0})
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// IsCacheable returns true if the request is eligible for the two-tier
// cache. Only idempotent reads on augmentation-eligible or pass-through
// endpoints are cacheable; proxied writes (interaction logging, posting)
// are never cached.
func IsCacheable(req *pipeline.Request) bool {
	if req.Method != "" && req.Method != "GET" && req.Method != "HEAD" {
		return false
	}
	if req.Class != pipeline.ClassAugmentation && req.Class != pipeline.ClassPassThrough {
		return false
	}
	return true
}
