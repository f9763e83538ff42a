package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/corgi-proxy/corgi/internal/cache"
	"github.com/corgi-proxy/corgi/internal/coldstart"
	"github.com/corgi-proxy/corgi/internal/config"
	"github.com/corgi-proxy/corgi/internal/identity"
	"github.com/corgi-proxy/corgi/internal/interaction"
	"github.com/corgi-proxy/corgi/internal/metrics"
	"github.com/corgi-proxy/corgi/internal/pipeline"
	"github.com/corgi-proxy/corgi/internal/ranking"
	"github.com/corgi-proxy/corgi/internal/ratelimit"
	"github.com/corgi-proxy/corgi/internal/router"
	"github.com/corgi-proxy/corgi/internal/store"
)

// setupIntegration builds a full Server (real chi routing, real cache
// middleware, real store) against a mock upstream instance, exercising
// the stack the way an actual deployment wires it in internal/daemon.
func setupIntegration(t *testing.T, upstreamHandler http.HandlerFunc) (*Server, *httptest.Server, store.Backend) {
	t.Helper()

	upstream := httptest.NewServer(upstreamHandler)
	t.Cleanup(upstream.Close)

	backend, err := store.Open(filepath.Join(t.TempDir(), "integration.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	const instanceKey = "integration.example"
	instances := router.NewRegistry(map[string]config.InstanceConfig{
		instanceKey: {Host: upstream.URL, Enabled: true, Timeout: 5},
	})

	identityResolver := &identity.Resolver{Tokens: backend, DevBypassEnabled: false}

	csEngine := coldstart.New(backend, config.ColdStartConfig{RelaxedEngagementFloor: 0})
	rankingEngine := ranking.New(backend, config.RankingConfig{
		PerAuthorCap: 3, PerInstanceCap: 10, DefaultModel: "default",
		Models: map[string]config.ModelConfig{
			"default": {Normalizer: "minmax", WeightAffinity: 0.4, WeightEngagement: 0.3, WeightRecency: 0.2, WeightContent: 0.1, RecencyHalfLifeHours: 18},
		},
	}, csEngine)

	interactionCfg := config.InteractionConfig{MaxContextDepth: 3, MaxFieldLength: 500, AllowAnonymous: true}

	cacheMw, err := cache.NewCacheMiddleware(store.NewCacheAdapter(backend), cache.TTLs{
		Home: time.Minute, Profile: time.Minute, Instance: time.Minute, Status: time.Minute, Default: time.Minute,
	}, 1000, true)
	if err != nil {
		t.Fatalf("NewCacheMiddleware: %v", err)
	}
	interactionEngine := interaction.New(backend, interactionCfg, cacheMw)

	collector := metrics.NewCollector()
	cbRegistry := NewCircuitBreakerRegistry(3, time.Second, 1)
	retryConfig := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	chain := pipeline.NewChain(cacheMw)

	handler := NewProxyHandler(
		chain, NewUpstreamClient(), zerolog.Nop(), instances, identityResolver, collector,
		backend, rankingEngine, csEngine, interactionEngine,
		ratelimit.New(config.RateLimitConfig{Enabled: false}),
		config.InjectionConfig{DefaultStrategy: "uniform", DefaultMaxInjections: 5, DefaultGap: 2},
		interactionCfg, 2<<20, 16<<20, cbRegistry, retryConfig,
	)

	srv := NewServer(handler, "127.0.0.1:0", 0, 0, 0, false)
	return srv, upstream, backend
}

func seedIntegrationPost(t *testing.T, backend store.Backend, instance, postID, author string, favorites int64) {
	t.Helper()
	err := backend.UpsertPost(&store.Post{
		Instance: instance, PostID: postID, AuthorHandle: author,
		Content: "integration post " + postID, CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Language: "en", Favorites: favorites, DiscoveredAt: time.Now().UTC().Format(time.RFC3339),
		DiscoverySource: "crawl",
	})
	if err != nil {
		t.Fatalf("seedIntegrationPost: %v", err)
	}
}

func doRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("X-Corgi-Instance", "integration.example")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestIntegration_HomeTimelineRoutesThroughInjection(t *testing.T) {
	upstreamHits := 0
	srv, _, backend := setupIntegration(t, func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"id":"up-1","tags":[]}]`))
	})
	seedIntegrationPost(t, backend, "integration.example", "rec-1", "grace", 99)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/timelines/home?limit=10")

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if upstreamHits != 1 {
		t.Fatalf("upstream hits: got %d, want 1", upstreamHits)
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(items) < 2 {
		t.Fatalf("expected upstream item plus at least one injected recommendation, got %d", len(items))
	}
}

func TestIntegration_PublicTimelineIsCached(t *testing.T) {
	upstreamHits := 0
	srv, _, _ := setupIntegration(t, func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"id":"public-1"}]`))
	})

	rec1 := doRequest(t, srv, http.MethodGet, "/api/v1/timelines/public")
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status: got %d, want 200", rec1.Code)
	}
	if got := rec1.Header().Get("X-Corgi-Source"); got != "upstream" {
		t.Errorf("first request X-Corgi-Source: got %q, want upstream", got)
	}

	rec2 := doRequest(t, srv, http.MethodGet, "/api/v1/timelines/public")
	if rec2.Code != http.StatusOK {
		t.Fatalf("second request status: got %d, want 200", rec2.Code)
	}
	if upstreamHits != 1 {
		t.Fatalf("upstream hits: got %d, want 1 (second request should be served from cache, not re-forwarded)", upstreamHits)
	}
	if rec1.Body.String() != rec2.Body.String() {
		t.Errorf("cached body mismatch: %s vs %s", rec1.Body.String(), rec2.Body.String())
	}
}

func TestIntegration_RecommendedTimelineMountPointNeverCallsUpstream(t *testing.T) {
	upstreamHits := 0
	srv, _, backend := setupIntegration(t, func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[]`))
	})
	seedIntegrationPost(t, backend, "integration.example", "rec-2", "henry", 50)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/timelines/recommended?limit=5")

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if upstreamHits != 0 {
		t.Fatalf("recommended timeline is a mount point and must never call upstream, got %d hits", upstreamHits)
	}
}

func TestIntegration_PassThroughCatchAllForwardsUnknownRoutes(t *testing.T) {
	srv, _, _ := setupIntegration(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/notifications" {
			t.Errorf("unexpected upstream path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"type":"mention"}]`))
	})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/notifications")

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `[{"type":"mention"}]` {
		t.Errorf("body: got %q", rec.Body.String())
	}
}

func TestIntegration_InteractionInvalidatesPublicCache(t *testing.T) {
	upstreamHits := 0
	srv, _, backend := setupIntegration(t, func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"id":"public-1"}]`))
	})
	seedIntegrationPost(t, backend, "integration.example", "1", "ivy", 1)

	first := doRequest(t, srv, http.MethodGet, "/api/v1/timelines/public")
	if first.Code != http.StatusOK {
		t.Fatalf("first request status: got %d", first.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/interactions", jsonBody(t, map[string]interface{}{
		"instance": "integration.example", "post_id": "1", "action": "favorite",
	}))
	req.Header.Set("X-Corgi-Instance", "integration.example")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("interaction status: got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if upstreamHits != 1 {
		t.Fatalf("upstream hits after interaction: got %d, want 1 (interaction itself does not call upstream)", upstreamHits)
	}

	second := doRequest(t, srv, http.MethodGet, "/api/v1/timelines/public")
	if second.Code != http.StatusOK {
		t.Fatalf("post-invalidation request status: got %d", second.Code)
	}
	if upstreamHits != 2 {
		t.Fatalf("upstream hits after invalidation: got %d, want 2 (recording the interaction should invalidate the anonymous alias's cached page)", upstreamHits)
	}
}

func TestIntegration_HealthEndpointBypassesInstanceResolution(t *testing.T) {
	srv, _, _ := setupIntegration(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("health endpoint must never call upstream")
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
}
