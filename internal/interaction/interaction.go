// Package interaction validates, sanitizes, persists, and computes the
// effective state of user interactions with posts.
package interaction

import (
	"context"
	"time"

	"github.com/corgi-proxy/corgi/internal/apierr"
	"github.com/corgi-proxy/corgi/internal/config"
	"github.com/corgi-proxy/corgi/internal/store"
)

// CacheInvalidator is implemented by the response cache so the
// interaction pipeline can invalidate an alias's cached pages without
// importing the cache package's concrete fingerprinting details.
type CacheInvalidator interface {
	InvalidateAlias(alias string) error
}

// Engine records interactions and applies their side effects.
type Engine struct {
	backend store.Backend
	cfg     config.InteractionConfig
	cache   CacheInvalidator // optional, may be nil
}

func New(backend store.Backend, cfg config.InteractionConfig, cache CacheInvalidator) *Engine {
	return &Engine{backend: backend, cfg: cfg, cache: cache}
}

// Request bundles one interaction call's inputs.
type Request struct {
	Alias    string
	Instance string
	PostID   string
	Action   string
	Context  map[string]interface{}
}

// Result is the canonical status plus the new effective engagement state.
type Result struct {
	Accepted      bool
	EffectiveState string // the normalized action of the most recent record in its family
}

// Record validates, sanitizes, and persists one interaction, then applies
// its side effects: ranking cache invalidation, invalidation of the
// alias's cached responses (when a cache is configured), and an async
// author-affinity dirty mark. No per-post engagement-counter cache is
// invalidated. Store errors propagate without internal retries.
func (e *Engine) Record(ctx context.Context, req Request) (*Result, error) {
	action, err := ValidateAction(req.Action)
	if err != nil {
		return nil, err
	}
	if err := ValidatePostKeyShape(req.Instance, req.PostID); err != nil {
		return nil, err
	}
	if err := ValidateContext(req.Context, e.cfg.MaxContextDepth); err != nil {
		return nil, err
	}
	for k, v := range req.Context {
		if s, ok := v.(string); ok {
			if err := SanitizeFreeText(k, s, e.cfg.MaxFieldLength); err != nil {
				return nil, err
			}
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	in := &store.Interaction{
		Alias: req.Alias, Instance: req.Instance, PostID: req.PostID,
		Action: action, Timestamp: now, ContextJSON: "{}",
	}
	if err := e.backend.InsertInteraction(in); err != nil {
		return nil, apierr.New(apierr.KindStoreError, "interaction: persistence failed: %v", err)
	}

	effective := action
	key := store.PostKey{Instance: req.Instance, PostID: req.PostID}
	if family, ok := toggleFamilies[action]; ok {
		last, err := e.backend.LastInteractionInFamily(req.Alias, key, family)
		if err == nil && last != nil {
			effective = last.Action
		}
	}

	post, err := e.backend.GetPost(key)
	author := ""
	if err == nil && post != nil {
		author = post.AuthorHandle
	}

	if err := e.backend.DeleteRankings(req.Alias); err != nil {
		return nil, apierr.New(apierr.KindStoreError, "interaction: ranking invalidation failed: %v", err)
	}
	if e.cache != nil {
		_ = e.cache.InvalidateAlias(req.Alias)
	}
	if author != "" {
		go func() {
			_ = e.backend.MarkAffinityDirty(req.Alias, author)
		}()
	}

	return &Result{Accepted: true, EffectiveState: effective}, nil
}
