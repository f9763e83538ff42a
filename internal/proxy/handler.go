package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corgi-proxy/corgi/internal/apierr"
	"github.com/corgi-proxy/corgi/internal/coldstart"
	"github.com/corgi-proxy/corgi/internal/config"
	"github.com/corgi-proxy/corgi/internal/identity"
	"github.com/corgi-proxy/corgi/internal/inject"
	"github.com/corgi-proxy/corgi/internal/interaction"
	"github.com/corgi-proxy/corgi/internal/metrics"
	"github.com/corgi-proxy/corgi/internal/pipeline"
	"github.com/corgi-proxy/corgi/internal/ranking"
	"github.com/corgi-proxy/corgi/internal/ratelimit"
	"github.com/corgi-proxy/corgi/internal/router"
	"github.com/corgi-proxy/corgi/internal/store"
)

// maxBodyStoreSize bounds how much of a proxied body is ever held in
// memory for logging purposes.
const maxBodyStoreSize = 1 << 20 // 1 MB

func bodyForStore(b []byte) string {
	if len(b) > maxBodyStoreSize {
		return ""
	}
	return string(b)
}

// ProxyHandler is the main HTTP handler for the personalization proxy. It
// runs every proxied call through three-stage dispatch (spec.md §4.1):
// mount-point endpoints served locally, augmentation-eligible endpoints
// forwarded then optionally injected, and everything else forwarded
// verbatim by Server's catch-all route.
type ProxyHandler struct {
	chain             *pipeline.Chain
	client            *UpstreamClient
	logger            zerolog.Logger
	instances         *router.Registry
	identityResolver  *identity.Resolver
	collector         *metrics.Collector
	backend           store.Backend
	rankingEngine     *ranking.Engine
	coldstartEngine   *coldstart.Engine
	interactionEngine *interaction.Engine
	rateLimiter       *ratelimit.Limiter
	injectionCfg      config.InjectionConfig
	interactionCfg    config.InteractionConfig
	maxBodySize       int64
	maxResponseSize   int64
	cbRegistry        *CircuitBreakerRegistry
	retryConfig       RetryConfig
}

// NewProxyHandler wires every subsystem a proxied call may touch.
func NewProxyHandler(
	chain *pipeline.Chain,
	client *UpstreamClient,
	logger zerolog.Logger,
	instances *router.Registry,
	identityResolver *identity.Resolver,
	collector *metrics.Collector,
	backend store.Backend,
	rankingEngine *ranking.Engine,
	coldstartEngine *coldstart.Engine,
	interactionEngine *interaction.Engine,
	rateLimiter *ratelimit.Limiter,
	injectionCfg config.InjectionConfig,
	interactionCfg config.InteractionConfig,
	maxBodySize int64,
	maxResponseSize int64,
	cbRegistry *CircuitBreakerRegistry,
	retryConfig RetryConfig,
) *ProxyHandler {
	return &ProxyHandler{
		chain:             chain,
		client:            client,
		logger:            logger,
		instances:         instances,
		identityResolver:  identityResolver,
		collector:         collector,
		backend:           backend,
		rankingEngine:     rankingEngine,
		coldstartEngine:   coldstartEngine,
		interactionEngine: interactionEngine,
		rateLimiter:       rateLimiter,
		injectionCfg:      injectionCfg,
		interactionCfg:    interactionCfg,
		maxBodySize:       maxBodySize,
		maxResponseSize:   maxResponseSize,
		cbRegistry:        cbRegistry,
		retryConfig:       retryConfig,
	}
}

// requestContext bundles the per-call state built once at the top of
// every handler method.
type requestContext struct {
	requestID string
	startTime time.Time
	logger    zerolog.Logger
	instance  string
	instCfg   config.InstanceConfig
	res       identity.Resolution
	class     pipeline.EndpointClass
}

// begin resolves the upstream instance and identity for r, enforces the
// rate limiter, and returns the shared per-call state. class and policy
// select, respectively, the metrics bucket and the identity-resolution
// failure behavior for this endpoint.
func (h *ProxyHandler) begin(w http.ResponseWriter, r *http.Request, class pipeline.EndpointClass, policy identity.EndpointAuthPolicy) (*requestContext, bool) {
	requestID := uuid.New().String()
	startTime := time.Now()

	logger := h.logger.With().
		Str("request_id", requestID).
		Str("endpoint_class", string(class)).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()

	if h.collector != nil {
		h.collector.IncrementActive()
	}

	instanceKey, instCfg, err := h.instances.Resolve(r.Header.Get("X-Corgi-Instance"))
	if err != nil {
		h.finishActive()
		apierr.New(apierr.KindValidation, "%v", err).Write(w)
		return nil, false
	}

	res, apiErr := resolveIdentity(h.identityResolver, r, instanceKey, policy)
	if apiErr != nil {
		h.finishActive()
		apiErr.Write(w)
		return nil, false
	}

	if h.rateLimiter != nil {
		if err := h.rateLimiter.Allow(res.Alias, string(class), res.Tier == identity.TierToken); err != nil {
			h.finishActive()
			if rlErr, ok := apierr.As(err); ok {
				w.Header().Set("Retry-After", strconv.FormatFloat(rlErr.RetryAfter, 'f', 0, 64))
				rlErr.Write(w)
			} else {
				apierr.New(apierr.KindInternal, "rate limiter: %v", err).Write(w)
			}
			return nil, false
		}
	}

	logger = logger.With().
		Str("alias", res.Alias).
		Str("alias_tier", string(res.Tier)).
		Str("instance", instanceKey).
		Logger()

	return &requestContext{
		requestID: requestID,
		startTime: startTime,
		logger:    logger,
		instance:  instanceKey,
		instCfg:   instCfg,
		res:       res,
		class:     class,
	}, true
}

func (h *ProxyHandler) finishActive() {
	if h.collector != nil {
		h.collector.DecrementActive()
	}
}

// finish writes the shared response headers, records metrics, and
// decrements the active-request gauge. Call exactly once per request.
func (h *ProxyHandler) finish(w http.ResponseWriter, rc *requestContext, source string, resp *pipeline.Response) {
	defer h.finishActive()

	total := time.Since(rc.startTime)
	resp.TotalLatency = total
	resp.RequestID = rc.requestID

	w.Header().Set("X-Corgi-Source", source)
	w.Header().Set("X-Corgi-Processing-Time", strconv.FormatInt(total.Milliseconds(), 10))
	w.Header().Set("X-Corgi-Identity-Tier", string(rc.res.Tier))

	if h.collector != nil {
		h.collector.Record(&pipeline.Request{Class: rc.class, UpstreamInstance: rc.instance}, resp)
		if resp.StatusCode >= 500 {
			h.collector.RecordError(string(apierr.KindUpstreamError), rc.instance, resp.StatusCode)
		}
	}

	rc.logger.Info().
		Str("source", source).
		Int("status", resp.StatusCode).
		Dur("total_latency", total).
		Msg("proxied call complete")
}

// HandleHealth is the liveness/readiness endpoint. No auth, no rate limit.
func (h *ProxyHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	stats := map[string]interface{}{"status": "ok"}
	if h.collector != nil {
		stats["metrics"] = h.collector.Stats()
	}
	data, _ := json.Marshal(stats)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleHomeTimeline forwards GET /api/v1/timelines/home, injecting
// ranked recommendations into the upstream page.
func (h *ProxyHandler) HandleHomeTimeline(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.begin(w, r, pipeline.ClassAugmentation, identity.GracefulDegradation)
	if !ok {
		return
	}

	q, apiErr := parseTimelineQuery(r.URL.Query())
	if apiErr != nil {
		h.finishActive()
		apiErr.Write(w)
		return
	}

	upstreamResp, upstreamBody, upstreamErr := h.forward(r, rc)

	if upstreamErr != nil || (upstreamResp != nil && upstreamResp.StatusCode >= 500) {
		status := 0
		if upstreamResp != nil {
			status = upstreamResp.StatusCode
		}
		rc.logger.Warn().Err(upstreamErr).Int("upstream_status", status).Msg("upstream unavailable, synthesizing cold-start page")
		h.serveColdStartTimeline(w, r, rc, q)
		return
	}
	defer upstreamResp.Body.Close()

	if upstreamResp.StatusCode >= 400 {
		h.proxyUpstreamError(w, rc, upstreamResp, upstreamBody)
		return
	}

	upstreamItems, err := parseUpstreamTimeline(upstreamBody, rc.instance)
	if err != nil {
		rc.logger.Error().Err(err).Msg("failed to parse upstream timeline page")
		h.finish(w, rc, "upstream", &pipeline.Response{StatusCode: http.StatusOK, Body: upstreamBody})
		writeRawBody(w, http.StatusOK, upstreamBody)
		return
	}

	excludeKeys := make([]store.PostKey, 0, len(upstreamItems)+len(q.excludeIDs))
	for _, u := range upstreamItems {
		excludeKeys = append(excludeKeys, u.Key)
	}
	for _, id := range q.excludeIDs {
		excludeKeys = append(excludeKeys, store.PostKey{Instance: rc.instance, PostID: id})
	}

	recs, err := h.rankingEngine.Rank(r.Context(), ranking.Request{
		Alias:           rc.res.Alias,
		Anonymous:       rc.res.Tier == identity.TierAnonymous,
		Limit:           q.limit,
		MinScore:        q.minScore,
		ExcludePostKeys: excludeKeys,
		Languages:       q.languages,
		Diversity:       true,
	})
	if err != nil {
		rc.logger.Warn().Err(err).Msg("ranking unavailable, serving upstream page unmodified")
		h.finish(w, rc, "upstream", &pipeline.Response{StatusCode: http.StatusOK, Body: upstreamBody})
		writeRawBody(w, http.StatusOK, upstreamBody)
		return
	}

	merged := inject.Inject(inject.Request{
		UpstreamPage:  upstreamItems,
		InjectionSet:  recs,
		Strategy:      inject.Strategy(h.injectionCfg.DefaultStrategy),
		MaxInjections: h.injectionCfg.DefaultMaxInjections,
		Gap:           h.injectionCfg.DefaultGap,
	})

	body, err := h.renderItems(merged)
	if err != nil {
		rc.logger.Error().Err(err).Msg("failed to render merged timeline")
		apierr.New(apierr.KindInternal, "rendering merged timeline: %v", err).Write(w)
		h.finishActive()
		return
	}

	setPaginationHeader(w, r, merged)
	h.finish(w, rc, "upstream", &pipeline.Response{StatusCode: http.StatusOK, Body: body})
	writeRawBody(w, http.StatusOK, body)
}

// HandlePublicOrLocalTimeline forwards GET /api/v1/timelines/public and
// /local verbatim (subject to caching); injection never applies here.
func (h *ProxyHandler) HandlePublicOrLocalTimeline(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.begin(w, r, pipeline.ClassAugmentation, identity.GracefulDegradation)
	if !ok {
		return
	}

	upstreamResp, upstreamBody, err := h.forward(r, rc)
	if err != nil {
		rc.logger.Warn().Err(err).Msg("upstream unavailable for non-injected timeline")
		apierr.New(apierr.KindUpstreamError, "upstream request failed: %v", err).Write(w)
		h.finishActive()
		return
	}
	defer upstreamResp.Body.Close()

	if upstreamResp.StatusCode >= 400 {
		h.proxyUpstreamError(w, rc, upstreamResp, upstreamBody)
		return
	}

	h.finish(w, rc, "upstream", &pipeline.Response{StatusCode: upstreamResp.StatusCode, Body: upstreamBody})
	writeRawBody(w, upstreamResp.StatusCode, upstreamBody)
}

// HandlePassThrough forwards any endpoint outside the mount table and the
// augmentation set verbatim (spec.md §4.1 dispatch stage three), caching
// per the same rules as augmentation-eligible reads and returning the
// upstream body and status unmodified.
func (h *ProxyHandler) HandlePassThrough(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.begin(w, r, pipeline.ClassPassThrough, identity.GracefulDegradation)
	if !ok {
		return
	}

	upstreamResp, upstreamBody, err := h.forward(r, rc)
	if err != nil {
		rc.logger.Warn().Err(err).Msg("upstream unavailable for pass-through call")
		apierr.New(apierr.KindUpstreamError, "upstream request failed: %v", err).Write(w)
		h.finishActive()
		return
	}
	defer upstreamResp.Body.Close()

	h.finish(w, rc, "upstream", &pipeline.Response{StatusCode: upstreamResp.StatusCode, Body: upstreamBody})
	writeRawBody(w, upstreamResp.StatusCode, upstreamBody)
}

// HandleRecommendedTimeline serves GET /api/v1/timelines/recommended
// entirely from the ranking/cold-start pipeline; its body never comes
// from an upstream page.
func (h *ProxyHandler) HandleRecommendedTimeline(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.begin(w, r, pipeline.ClassMountPoint, identity.GracefulDegradation)
	if !ok {
		return
	}

	q, apiErr := parseTimelineQuery(r.URL.Query())
	if apiErr != nil {
		h.finishActive()
		apiErr.Write(w)
		return
	}

	h.serveColdStartOrRankedTimeline(w, r, rc, q, true)
}

// serveColdStartTimeline is the failure-policy fallback used when an
// upstream call for an augmentation-eligible, graceful-degradation
// endpoint fails: it synthesizes a page entirely from recommendations.
func (h *ProxyHandler) serveColdStartTimeline(w http.ResponseWriter, r *http.Request, rc *requestContext, q timelineQuery) {
	h.serveColdStartOrRankedTimeline(w, r, rc, q, false)
}

// serveColdStartOrRankedTimeline renders a recommendation-only page,
// either because the endpoint is mount-point (recommended timeline) or
// because upstream failed and failure policy requires synthesis.
func (h *ProxyHandler) serveColdStartOrRankedTimeline(w http.ResponseWriter, r *http.Request, rc *requestContext, q timelineQuery, mountPoint bool) {
	excludeKeys := make([]store.PostKey, 0, len(q.excludeIDs))
	for _, id := range q.excludeIDs {
		excludeKeys = append(excludeKeys, store.PostKey{Instance: rc.instance, PostID: id})
	}

	recs, err := h.rankingEngine.Rank(r.Context(), ranking.Request{
		Alias:           rc.res.Alias,
		Anonymous:       rc.res.Tier == identity.TierAnonymous,
		Limit:           q.limit,
		MinScore:        q.minScore,
		ExcludePostKeys: excludeKeys,
		Languages:       q.languages,
		Diversity:       true,
	})
	if err != nil {
		apiErr, ok := apierr.As(err)
		if !ok {
			apiErr = apierr.New(apierr.KindRankingUnavailable, "ranking: %v", err)
		}
		apiErr.Write(w)
		h.finishActive()
		return
	}

	recs = filterByCursor(recs, q.maxID, q.sinceID)

	items := make([]inject.Item, 0, len(recs))
	for _, rec := range recs {
		items = append(items, inject.Item{
			Key: rec.Key, IsRecommendation: true,
			ReasonCategory: rec.ReasonCategory, ReasonDetail: rec.ReasonDetail, Score: rec.Score,
		})
	}

	body, err := h.renderItems(items)
	if err != nil {
		apierr.New(apierr.KindInternal, "rendering recommendation page: %v", err).Write(w)
		h.finishActive()
		return
	}

	setPaginationHeader(w, r, items)
	source := "cold_start"
	if mountPoint {
		source = "recommended"
	}
	h.finish(w, rc, source, &pipeline.Response{StatusCode: http.StatusOK, Body: body, Synthesized: !mountPoint})
	writeRawBody(w, http.StatusOK, body)
}

// HandleRecommendations serves GET /api/v1/recommendations: bare ranking
// records, never post bodies.
func (h *ProxyHandler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.begin(w, r, pipeline.ClassMountPoint, identity.GracefulDegradation)
	if !ok {
		return
	}

	q, apiErr := parseTimelineQuery(r.URL.Query())
	if apiErr != nil {
		h.finishActive()
		apiErr.Write(w)
		return
	}

	recs, err := h.rankingEngine.Rank(r.Context(), ranking.Request{
		Alias:     rc.res.Alias,
		Anonymous: rc.res.Tier == identity.TierAnonymous,
		Limit:     q.limit,
		MinScore:  q.minScore,
		Languages: q.languages,
		Diversity: true,
	})
	if err != nil {
		apiErr, ok := apierr.As(err)
		if !ok {
			apiErr = apierr.New(apierr.KindRankingUnavailable, "ranking: %v", err)
		}
		apiErr.Write(w)
		h.finishActive()
		return
	}
	recs = filterByCursor(recs, q.maxID, q.sinceID)

	type record struct {
		Instance       string  `json:"instance"`
		PostID         string  `json:"post_id"`
		Score          float64 `json:"score"`
		ReasonCategory string  `json:"reason_category"`
		ReasonDetail   string  `json:"reason_detail,omitempty"`
	}
	out := make([]record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, record{
			Instance: rec.Key.Instance, PostID: rec.Key.PostID, Score: rec.Score,
			ReasonCategory: rec.ReasonCategory, ReasonDetail: rec.ReasonDetail,
		})
	}
	body, _ := json.Marshal(out)

	h.finish(w, rc, "recommended", &pipeline.Response{StatusCode: http.StatusOK, Body: body})
	writeRawBody(w, http.StatusOK, body)
}

// HandleInteraction records POST /api/v1/interactions. Its auth policy is
// the one conditional policy in the mount table: required unless
// config.Interaction.AllowAnonymous opts the endpoint into graceful
// degradation.
func (h *ProxyHandler) HandleInteraction(w http.ResponseWriter, r *http.Request) {
	policy := identity.AuthRequired
	if h.interactionCfg.AllowAnonymous {
		policy = identity.GracefulDegradation
	}

	rc, ok := h.begin(w, r, pipeline.ClassMountPoint, policy)
	if !ok {
		return
	}

	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.New(apierr.KindValidation, "reading request body: %v", err).Write(w)
		h.finishActive()
		return
	}
	defer r.Body.Close()

	var payload struct {
		Instance string                 `json:"instance"`
		PostID   string                 `json:"post_id"`
		Action   string                 `json:"action"`
		Context  map[string]interface{} `json:"context"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		apierr.New(apierr.KindValidation, "invalid interaction body: %v", err).Write(w)
		h.finishActive()
		return
	}
	if payload.Instance == "" {
		payload.Instance = rc.instance
	}

	result, err := h.interactionEngine.Record(r.Context(), interaction.Request{
		Alias: rc.res.Alias, Instance: payload.Instance, PostID: payload.PostID,
		Action: payload.Action, Context: payload.Context,
	})
	if err != nil {
		apiErr, ok := apierr.As(err)
		if !ok {
			apiErr = apierr.New(apierr.KindInternal, "interaction: %v", err)
		}
		apiErr.Write(w)
		h.finishActive()
		return
	}

	post, _ := h.backend.GetPost(store.PostKey{Instance: payload.Instance, PostID: payload.PostID})
	respBody, _ := json.Marshal(map[string]interface{}{
		"accepted":        result.Accepted,
		"effective_state": result.EffectiveState,
		"post":            synthesizePostBody(post, nil),
	})

	h.finish(w, rc, "upstream", &pipeline.Response{StatusCode: http.StatusOK, Body: respBody})
	writeRawBody(w, http.StatusOK, respBody)
}

// HandleInteractionCountsBatch serves GET /api/v1/interactions/counts/batch:
// engagement counts for a batch of posts named by the `posts` query
// parameter (comma-separated `instance:post_id` pairs).
func (h *ProxyHandler) HandleInteractionCountsBatch(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.begin(w, r, pipeline.ClassMountPoint, identity.GracefulDegradation)
	if !ok {
		return
	}

	raw := r.URL.Query().Get("posts")
	var keys []store.PostKey
	if raw != "" {
		for _, pair := range strings.Split(raw, ",") {
			parts := strings.SplitN(pair, ":", 2)
			instance := rc.instance
			postID := parts[0]
			if len(parts) == 2 {
				instance = parts[0]
				postID = parts[1]
			}
			keys = append(keys, store.PostKey{Instance: instance, PostID: postID})
		}
	}

	type count struct {
		Instance string `json:"instance"`
		PostID   string `json:"post_id"`
		Favorites int64 `json:"favorites"`
		Reblogs   int64 `json:"reblogs"`
		Replies   int64 `json:"replies"`
		Found     bool  `json:"found"`
	}

	results := make([]count, 0, len(keys))
	failures := 0
	for _, k := range keys {
		p, err := h.backend.GetPost(k)
		if err != nil || p == nil {
			failures++
			results = append(results, count{Instance: k.Instance, PostID: k.PostID, Found: false})
			continue
		}
		results = append(results, count{
			Instance: k.Instance, PostID: k.PostID, Found: true,
			Favorites: p.Favorites, Reblogs: p.Reblogs, Replies: p.Replies,
		})
	}

	successRate := 100.0
	if len(keys) > 0 {
		successRate = float64(len(keys)-failures) / float64(len(keys)) * 100
	}
	w.Header().Set("X-Corgi-Success-Rate", strconv.FormatFloat(successRate, 'f', 2, 64))

	body, _ := json.Marshal(results)
	h.finish(w, rc, "cache", &pipeline.Response{StatusCode: http.StatusOK, Body: body})
	writeRawBody(w, http.StatusOK, body)
}

// forward runs the cache-aware pipeline request phase, forwards to
// upstream on a miss, and returns the raw response plus its body. On a
// cache hit, the returned response is built from the cached status and
// body, and body holds the cached bytes.
func (h *ProxyHandler) forward(r *http.Request, rc *requestContext) (*http.Response, []byte, error) {
	ctx := r.Context()

	var reqBody []byte
	if r.Body != nil {
		if h.maxBodySize > 0 {
			r.Body = http.MaxBytesReader(nil, r.Body, h.maxBodySize)
		}
		reqBody, _ = io.ReadAll(r.Body)
		defer r.Body.Close()
	}

	pipeReq := &pipeline.Request{
		ID: rc.requestID, ReceivedAt: rc.startTime, Method: r.Method, Path: r.URL.Path,
		Query: r.URL.Query(), Alias: rc.res.Alias, AliasTier: pipeline.AliasTier(rc.res.Tier),
		UpstreamInstance: rc.instance, Class: rc.class, Body: reqBody,
	}

	pipeReq, cached, err := h.chain.ProcessRequest(ctx, pipeReq)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline request phase: %w", err)
	}
	if cached != nil {
		resp := &http.Response{
			StatusCode: cached.StatusCode,
			Header:     http.Header{},
			Body:       io.NopCloser(bytes.NewReader(cached.Body)),
		}
		return resp, cached.Body, nil
	}

	resp, err := h.forwardWithRetry(ctx, rc, r, reqBody)
	if err != nil {
		return nil, nil, err
	}

	var bodyReader io.Reader = resp.Body
	if h.maxResponseSize > 0 {
		bodyReader = io.LimitReader(resp.Body, h.maxResponseSize+1)
	}
	body, err := io.ReadAll(bodyReader)
	if err != nil {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("reading upstream response: %w", err)
	}

	_, _ = h.chain.ProcessResponse(ctx, pipeReq, &pipeline.Response{
		StatusCode: resp.StatusCode, Body: body,
	})

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, body, nil
}

// forwardWithRetry forwards one call to the single resolved upstream
// instance, retrying transient failures and honoring the instance's
// circuit breaker. Unlike the teacher's multi-provider fallback, a
// request never reroutes to a different instance: the client's bearer
// token is only valid against the instance it addressed.
func (h *ProxyHandler) forwardWithRetry(ctx context.Context, rc *requestContext, r *http.Request, body []byte) (*http.Response, error) {
	cb := h.cbRegistry.Get(rc.instance)
	if !cb.Allow() {
		return nil, fmt.Errorf("circuit open for instance %s", rc.instance)
	}

	authHeader := r.Header.Get("Authorization")
	timeout := rc.instCfg.TimeoutDuration()

	var lastErr error
	maxAttempts := h.retryConfig.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, h.retryConfig.BaseDelay, h.retryConfig.MaxDelay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := h.client.Forward(ctx, rc.instance, rc.instCfg.Host, r.Method, r.URL.Path, r.URL.Query(), authHeader, body, timeout)
		if err != nil {
			lastErr = err
			cb.RecordFailure()
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("upstream returned status %d", resp.StatusCode)
			cb.RecordFailure()
			if ra := retryAfterDuration(resp); ra > 0 {
				resp.Body.Close()
				if err := sleepWithContext(ctx, ra); err != nil {
					return nil, err
				}
			} else {
				resp.Body.Close()
			}
			continue
		}

		cb.RecordSuccess()
		return resp, nil
	}

	return nil, fmt.Errorf("instance %s: %w", rc.instance, lastErr)
}

// proxyUpstreamError mirrors a 4xx/non-5xx upstream error back to the
// client, preserving status and body per the upstream_error taxonomy.
func (h *ProxyHandler) proxyUpstreamError(w http.ResponseWriter, rc *requestContext, upstreamResp *http.Response, body []byte) {
	if h.collector != nil {
		h.collector.RecordError(string(apierr.KindUpstreamError), rc.instance, upstreamResp.StatusCode)
	}
	h.finish(w, rc, "upstream", &pipeline.Response{StatusCode: upstreamResp.StatusCode, Body: body})
	writeRawBody(w, upstreamResp.StatusCode, body)
}

// renderItems serializes a merged or recommendation-only page to the
// upstream-compatible JSON array shape, synthesizing post bodies for
// injected items from the corpus store.
func (h *ProxyHandler) renderItems(items []inject.Item) ([]byte, error) {
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		if !it.IsRecommendation {
			out = append(out, json.RawMessage(it.UpstreamRaw))
			continue
		}
		post, err := h.backend.GetPost(it.Key)
		if err != nil || post == nil {
			continue // corpus entry vanished between ranking and render; skip rather than fail the page
		}
		body := synthesizePostBody(post, &it)
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

// synthesizePostBody builds an upstream-shaped post object from a corpus
// record. When item is non-nil, the corgi-only augmentation fields
// (spec.md §6: is_recommendation, reason_category, reason_detail, score)
// are attached; compliant upstream clients must ignore unknown fields.
func synthesizePostBody(p *store.Post, item *inject.Item) map[string]interface{} {
	if p == nil {
		return map[string]interface{}{}
	}
	body := map[string]interface{}{
		"id":            p.PostID,
		"instance":      p.Instance,
		"account":       map[string]interface{}{"acct": p.AuthorHandle},
		"content":       p.Content,
		"created_at":    p.CreatedAt,
		"language":      p.Language,
		"favourites_count": p.Favorites,
		"reblogs_count":    p.Reblogs,
		"replies_count":    p.Replies,
	}
	if item != nil {
		body["is_recommendation"] = true
		body["reason_category"] = item.ReasonCategory
		body["reason_detail"] = item.ReasonDetail
		body["score"] = item.Score
	}
	return body
}

// timelineQuery holds the validated query parameters shared by every
// timeline-shaped endpoint.
type timelineQuery struct {
	limit      int
	minScore   float64
	maxID      string
	sinceID    string
	languages  []string
	excludeIDs []string
	skipCache  bool
}

func parseTimelineQuery(q url.Values) (timelineQuery, *apierr.Error) {
	out := timelineQuery{limit: 20, minScore: 0}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			return out, apierr.Validation(map[string]string{"limit": raw}, "limit must be an integer in [1, 100]")
		}
		out.limit = n
	}
	if raw := q.Get("min_score"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0.0 || f > 1.0 {
			return out, apierr.Validation(map[string]string{"min_score": raw}, "min_score must be a float in [0.0, 1.0]")
		}
		out.minScore = f
	}
	out.maxID = q.Get("max_id")
	out.sinceID = q.Get("since_id")
	if raw := q.Get("languages"); raw != "" {
		out.languages = strings.Split(raw, ",")
	}
	if raw := q.Get("exclude_ids"); raw != "" {
		out.excludeIDs = strings.Split(raw, ",")
	}
	out.skipCache = q.Get("skip_cache") == "true"
	return out, nil
}

// filterByCursor applies best-effort max_id/since_id bounds to a locally
// synthesized recommendation set (see DESIGN.md: the body defines cursor
// semantics for forwarded upstream pages only, not for this service's
// own synthesized timelines).
func filterByCursor(recs []coldstart.Recommendation, maxID, sinceID string) []coldstart.Recommendation {
	if maxID == "" && sinceID == "" {
		return recs
	}
	out := make([]coldstart.Recommendation, 0, len(recs))
	for _, r := range recs {
		if maxID != "" && !cursorLess(r.Key.PostID, maxID) {
			continue
		}
		if sinceID != "" && !cursorLess(sinceID, r.Key.PostID) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// cursorLess compares two post IDs numerically when both parse as
// integers (the common case for Snowflake-style federated IDs), falling
// back to a lexicographic comparison otherwise.
func cursorLess(a, b string) bool {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return an < bn
	}
	return a < b
}

// setPaginationHeader emits a Link header with next/prev cursor targets
// derived from the first and last item actually rendered on the page.
func setPaginationHeader(w http.ResponseWriter, r *http.Request, items []inject.Item) {
	if len(items) == 0 {
		return
	}
	first := items[0].Key.PostID
	last := items[len(items)-1].Key.PostID

	base := *r.URL
	q := base.Query()

	nextQ := cloneValues(q)
	nextQ.Set("max_id", last)
	base.RawQuery = nextQ.Encode()
	next := base.String()

	prevQ := cloneValues(q)
	prevQ.Set("since_id", first)
	base.RawQuery = prevQ.Encode()
	prev := base.String()

	w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next", <%s>; rel="prev"`, next, prev))
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// parseUpstreamTimeline parses an upstream timeline page (a JSON array of
// post objects) into the injector's opaque item shape, extracting only
// what the injector needs: identity and tags.
func parseUpstreamTimeline(body []byte, instance string) ([]inject.UpstreamItem, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing upstream timeline page: %w", err)
	}

	items := make([]inject.UpstreamItem, 0, len(raw))
	for _, r := range raw {
		var post struct {
			ID   string   `json:"id"`
			Tags []struct {
				Name string `json:"name"`
			} `json:"tags"`
			Account struct {
				Acct string `json:"acct"`
			} `json:"account"`
		}
		if err := json.Unmarshal(r, &post); err != nil {
			continue
		}
		tags := make([]string, 0, len(post.Tags))
		for _, t := range post.Tags {
			tags = append(tags, t.Name)
		}
		items = append(items, inject.UpstreamItem{
			Key:  store.PostKey{Instance: instance, PostID: post.ID},
			Tags: tags,
			Raw:  r,
		})
	}
	return items, nil
}

// writeRawBody is the shared response writer for synthesized/forwarded
// JSON bodies.
func writeRawBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
