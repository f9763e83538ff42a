package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

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

// staticTokenStore is a fixed (instance:token -> alias) map used in place
// of the real backend-driven token store in handler tests.
type staticTokenStore map[string]string

func (s staticTokenStore) ResolveToken(ctx context.Context, instance, token string) (string, bool) {
	alias, ok := s[instance+":"+token]
	return alias, ok
}

// testHarness bundles a ProxyHandler wired against a real on-disk store
// and a test upstream, ready to drive through httptest.
type testHarness struct {
	handler  *ProxyHandler
	backend  store.Backend
	instance string
	upstream *httptest.Server
	tokens   staticTokenStore
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	path := filepath.Join(t.TempDir(), "corgi.db")
	backend, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(upstream.Close)

	const instanceKey = "home.example"
	instances := router.NewRegistry(map[string]config.InstanceConfig{
		instanceKey: {Host: upstream.URL, Enabled: true, Timeout: 5},
	})

	tokens := staticTokenStore{}
	identityResolver := &identity.Resolver{Tokens: tokens, DevBypassEnabled: true}

	csCfg := config.ColdStartConfig{RelaxedEngagementFloor: 0}
	csEngine := coldstart.New(backend, csCfg)

	rankingCfg := config.RankingConfig{
		PerAuthorCap:   3,
		PerInstanceCap: 10,
		DefaultModel:   "default",
		Models: map[string]config.ModelConfig{
			"default": {Normalizer: "minmax", WeightAffinity: 0.4, WeightEngagement: 0.3, WeightRecency: 0.2, WeightContent: 0.1, RecencyHalfLifeHours: 18},
		},
	}
	rankingEngine := ranking.New(backend, rankingCfg, csEngine)

	interactionCfg := config.InteractionConfig{MaxContextDepth: 3, MaxFieldLength: 500, AllowAnonymous: false}
	interactionEngine := interaction.New(backend, interactionCfg, nil)

	rateLimiter := ratelimit.New(config.RateLimitConfig{Enabled: false})
	collector := metrics.NewCollector()
	cbRegistry := NewCircuitBreakerRegistry(3, time.Second, 1)
	retryConfig := RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	chain := pipeline.NewChain()

	handler := NewProxyHandler(
		chain,
		NewUpstreamClient(),
		zerolog.Nop(),
		instances,
		identityResolver,
		collector,
		backend,
		rankingEngine,
		csEngine,
		interactionEngine,
		rateLimiter,
		config.InjectionConfig{DefaultStrategy: "uniform", DefaultMaxInjections: 5, DefaultGap: 2},
		interactionCfg,
		2<<20,
		16<<20,
		cbRegistry,
		retryConfig,
	)

	return &testHarness{
		handler:  handler,
		backend:  backend,
		instance: instanceKey,
		upstream: upstream,
		tokens:   tokens,
	}
}

func (h *testHarness) seedPost(t *testing.T, postID, author, language string, favorites, reblogs, replies int64) {
	t.Helper()
	err := h.backend.UpsertPost(&store.Post{
		Instance: h.instance, PostID: postID, AuthorHandle: author,
		Content: "hello from " + postID, CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Language: language, Favorites: favorites, Reblogs: reblogs, Replies: replies,
		DiscoveredAt: time.Now().UTC().Format(time.RFC3339), DiscoverySource: "crawl",
	})
	if err != nil {
		t.Fatalf("seedPost: %v", err)
	}
}

func (h *testHarness) newRequest(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	r.Header.Set("X-Corgi-Instance", h.instance)
	return r
}

func TestHandleHealth(t *testing.T) {
	h := newTestHarness(t)
	rec := httptest.NewRecorder()
	h.handler.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field: got %v, want ok", body["status"])
	}
}

func TestHandleRecommendedTimeline_ColdStartFallback(t *testing.T) {
	h := newTestHarness(t)
	h.seedPost(t, "1", "alice", "en", 10, 2, 1)
	h.seedPost(t, "2", "bob", "en", 5, 1, 0)

	req := h.newRequest(http.MethodGet, "/api/v1/timelines/recommended?limit=10")
	rec := httptest.NewRecorder()
	h.handler.HandleRecommendedTimeline(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Corgi-Source"); got != "recommended" {
		t.Errorf("X-Corgi-Source: got %q, want recommended", got)
	}
	if got := rec.Header().Get("X-Corgi-Identity-Tier"); got != string(identity.TierAnonymous) {
		t.Errorf("X-Corgi-Identity-Tier: got %q, want anonymous", got)
	}

	var items []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("expected at least one recommended item")
	}
	for _, it := range items {
		if it["is_recommendation"] != true {
			t.Errorf("item missing is_recommendation: %v", it)
		}
	}
}

func TestHandleRecommendedTimeline_LimitValidation(t *testing.T) {
	h := newTestHarness(t)

	req := h.newRequest(http.MethodGet, "/api/v1/timelines/recommended?limit=999")
	rec := httptest.NewRecorder()
	h.handler.HandleRecommendedTimeline(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["type"] != "validation_error" {
		t.Errorf("error type: got %v, want validation_error", errObj["type"])
	}
}

func TestHandleRecommendedTimeline_MinScoreValidation(t *testing.T) {
	h := newTestHarness(t)

	req := h.newRequest(http.MethodGet, "/api/v1/timelines/recommended?min_score=2.0")
	rec := httptest.NewRecorder()
	h.handler.HandleRecommendedTimeline(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestHandleRecommendations_BareRecords(t *testing.T) {
	h := newTestHarness(t)
	h.seedPost(t, "10", "alice", "en", 20, 3, 2)

	req := h.newRequest(http.MethodGet, "/api/v1/recommendations?limit=5")
	rec := httptest.NewRecorder()
	h.handler.HandleRecommendations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var records []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, r := range records {
		if _, ok := r["content"]; ok {
			t.Errorf("bare recommendation record should not carry a post body: %v", r)
		}
		if _, ok := r["post_id"]; !ok {
			t.Errorf("record missing post_id: %v", r)
		}
	}
}

func TestHandleHomeTimeline_InjectsAndCursorExcludesUpstreamPosts(t *testing.T) {
	h := newTestHarness(t)
	h.seedPost(t, "100", "carol", "en", 50, 10, 5)

	h.upstream.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"id":"upstream-1","tags":[],"account":{"acct":"dave"}}]`))
	})

	req := h.newRequest(http.MethodGet, "/api/v1/timelines/home?limit=10")
	rec := httptest.NewRecorder()
	h.handler.HandleHomeTimeline(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Corgi-Source"); got != "upstream" {
		t.Errorf("X-Corgi-Source: got %q, want upstream", got)
	}

	var items []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("expected merged page to contain at least the upstream item")
	}
	upstreamCount := 0
	foundRecommendation := false
	for _, it := range items {
		if it["id"] == "upstream-1" {
			upstreamCount++
		}
		if it["is_recommendation"] == true {
			foundRecommendation = true
		}
	}
	if upstreamCount != 1 {
		t.Errorf("upstream item: got %d occurrences, want exactly 1: %v", upstreamCount, items)
	}
	if !foundRecommendation {
		t.Errorf("expected an injected recommendation in merged page: %v", items)
	}
}

func TestHandleHomeTimeline_FallsBackToColdStartOn5xx(t *testing.T) {
	h := newTestHarness(t)
	h.seedPost(t, "200", "erin", "en", 40, 8, 3)

	h.upstream.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	req := h.newRequest(http.MethodGet, "/api/v1/timelines/home?limit=10")
	rec := httptest.NewRecorder()
	h.handler.HandleHomeTimeline(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (synthesized), body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Corgi-Source"); got != "cold_start" {
		t.Errorf("X-Corgi-Source: got %q, want cold_start", got)
	}
}

func TestHandleHomeTimeline_Propagates4xxUnmodified(t *testing.T) {
	h := newTestHarness(t)

	h.upstream.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
	})

	req := h.newRequest(http.MethodGet, "/api/v1/timelines/home")
	rec := httptest.NewRecorder()
	h.handler.HandleHomeTimeline(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandlePublicOrLocalTimeline_NeverInjects(t *testing.T) {
	h := newTestHarness(t)
	h.seedPost(t, "300", "frank", "en", 60, 12, 6)

	h.upstream.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"id":"upstream-public-1"}]`))
	})

	req := h.newRequest(http.MethodGet, "/api/v1/timelines/public")
	rec := httptest.NewRecorder()
	h.handler.HandlePublicOrLocalTimeline(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly the upstream page untouched, got %d items", len(items))
	}
	if items[0]["is_recommendation"] != nil {
		t.Errorf("public timeline must never carry injected items: %v", items[0])
	}
}

func TestHandlePassThrough_ForwardsVerbatim(t *testing.T) {
	h := newTestHarness(t)

	h.upstream.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/custom/endpoint" {
			t.Errorf("unexpected upstream path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	req := h.newRequest(http.MethodGet, "/api/v1/custom/endpoint")
	rec := httptest.NewRecorder()
	h.handler.HandlePassThrough(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201", rec.Code)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("body: got %q", rec.Body.String())
	}
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(b)
}

func TestHandleInteraction_RequiresAuthByDefault(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/interactions", jsonBody(t, map[string]interface{}{
		"instance": h.instance, "post_id": "1", "action": "favorite",
	}))
	req.Header.Set("X-Corgi-Instance", h.instance)
	rec := httptest.NewRecorder()
	h.handler.HandleInteraction(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleInteraction_RecordsWithToken(t *testing.T) {
	h := newTestHarness(t)
	h.seedPost(t, "1", "alice", "en", 1, 0, 0)
	h.tokens[h.instance+":secret-token"] = "alias-1"

	req := httptest.NewRequest(http.MethodPost, "/api/v1/interactions", jsonBody(t, map[string]interface{}{
		"instance": h.instance, "post_id": "1", "action": "favorite",
	}))
	req.Header.Set("X-Corgi-Instance", h.instance)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	h.handler.HandleInteraction(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["accepted"] != true {
		t.Errorf("accepted: got %v, want true", body["accepted"])
	}
	if body["effective_state"] != "favorite" {
		t.Errorf("effective_state: got %v, want favorite", body["effective_state"])
	}
}

func TestHandleInteraction_AllowAnonymousGraceful(t *testing.T) {
	h := newTestHarness(t)
	h.seedPost(t, "1", "alice", "en", 1, 0, 0)
	h.handler.interactionCfg.AllowAnonymous = true

	req := httptest.NewRequest(http.MethodPost, "/api/v1/interactions", jsonBody(t, map[string]interface{}{
		"instance": h.instance, "post_id": "1", "action": "favorite",
	}))
	req.Header.Set("X-Corgi-Instance", h.instance)
	rec := httptest.NewRecorder()
	h.handler.HandleInteraction(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleInteractionCountsBatch(t *testing.T) {
	h := newTestHarness(t)
	h.seedPost(t, "1", "alice", "en", 3, 1, 2)

	target := "/api/v1/interactions/counts/batch?posts=" + url.QueryEscape(h.instance+":1,"+h.instance+":missing")
	req := h.newRequest(http.MethodGet, target)
	rec := httptest.NewRecorder()
	h.handler.HandleInteractionCountsBatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Corgi-Success-Rate"); got != "50.00" {
		t.Errorf("X-Corgi-Success-Rate: got %q, want 50.00", got)
	}

	var results []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0]["found"] != true || results[0]["favorites"].(float64) != 3 {
		t.Errorf("first result wrong: %v", results[0])
	}
	if results[1]["found"] != false {
		t.Errorf("second result should be not-found: %v", results[1])
	}
}

func TestIdentityResolution_DevBypass(t *testing.T) {
	h := newTestHarness(t)

	req := h.newRequest(http.MethodGet, "/api/v1/timelines/recommended?as_alias=dev-alias")
	rec := httptest.NewRecorder()
	h.handler.HandleRecommendedTimeline(rec, req)

	if got := rec.Header().Get("X-Corgi-Identity-Tier"); got != string(identity.TierDevBypass) {
		t.Errorf("X-Corgi-Identity-Tier: got %q, want dev_bypass", got)
	}
}

func TestRateLimiting_Rejects(t *testing.T) {
	h := newTestHarness(t)
	h.handler.rateLimiter = ratelimit.New(config.RateLimitConfig{
		Enabled: true, WindowSeconds: 60, AnonymousCeiling: 1, AuthenticatedCeiling: 1,
	})

	req1 := h.newRequest(http.MethodGet, "/api/v1/timelines/recommended")
	rec1 := httptest.NewRecorder()
	h.handler.HandleRecommendedTimeline(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", rec1.Code)
	}

	req2 := h.newRequest(http.MethodGet, "/api/v1/timelines/recommended")
	rec2 := httptest.NewRecorder()
	h.handler.HandleRecommendedTimeline(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429", rec2.Code)
	}
}

func TestCursorFiltering(t *testing.T) {
	recs := []coldstart.Recommendation{
		{Key: store.PostKey{Instance: "i", PostID: "10"}},
		{Key: store.PostKey{Instance: "i", PostID: "20"}},
		{Key: store.PostKey{Instance: "i", PostID: "30"}},
	}

	filtered := filterByCursor(recs, "25", "")
	if len(filtered) != 2 {
		t.Fatalf("max_id=25: got %d recs, want 2", len(filtered))
	}

	filtered = filterByCursor(recs, "", "15")
	if len(filtered) != 2 {
		t.Fatalf("since_id=15: got %d recs, want 2", len(filtered))
	}

	filtered = filterByCursor(recs, "", "")
	if len(filtered) != 3 {
		t.Fatalf("no cursor: got %d recs, want 3", len(filtered))
	}
}
