// Package coldstart produces a high-quality recommendation list for
// alias-free, new, or language-mismatched calls, and backs
// the diversity-injection tail of the ranking pipeline.
package coldstart

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/corgi-proxy/corgi/internal/config"
	"github.com/corgi-proxy/corgi/internal/store"
)

// Recommendation is a scored candidate ready for timeline injection.
// Shared between the cold-start engine and the ranking engine so neither
// package needs to import the other.
type Recommendation struct {
	Key            store.PostKey
	Score          float64
	ReasonCategory string
	ReasonDetail   string
}

// Engine selects trending content from the crawled corpus.
type Engine struct {
	backend store.Backend
	cfg     config.ColdStartConfig
}

func New(backend store.Backend, cfg config.ColdStartConfig) *Engine {
	return &Engine{backend: backend, cfg: cfg}
}

// recencyFactor applies a piecewise recency decay.
func recencyFactor(age time.Duration) float64 {
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.8
	default:
		return 0.5
	}
}

// trendingScore computes (favorites + 2*reblogs + 1.5*replies) * recencyFactor(age).
func trendingScore(p *store.Post, now time.Time) float64 {
	engagement := float64(p.Favorites) + 2*float64(p.Reblogs) + 1.5*float64(p.Replies)
	createdAt, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		createdAt = now
	}
	return engagement * recencyFactor(now.Sub(createdAt))
}

// scored pairs a post with its trending score for sorting.
type scored struct {
	post  *store.Post
	score float64
}

// Select runs the full fallback ladder: strict criteria, then relaxed
// criteria, then any recent corpus, then the embedded seed list. Each
// fallback boundary crossed is logged.
func (e *Engine) Select(ctx context.Context, languages []string, perAuthorCap, perInstanceCap, limit int) ([]Recommendation, error) {
	posts, err := e.backend.RecentPosts(14, languages, 5000)
	if err != nil {
		return nil, err
	}

	recs := e.selectFrom(posts, perAuthorCap, perInstanceCap, limit, e.cfg.RelaxedEngagementFloor+5)
	if len(recs) >= limit || len(recs) > 0 {
		return recs, nil
	}
	log.Warn().Strs("languages", languages).Msg("cold-start: strict criteria empty, relaxing engagement floor")

	recs = e.selectFrom(posts, perAuthorCap, perInstanceCap, limit, e.cfg.RelaxedEngagementFloor)
	if len(recs) > 0 {
		return recs, nil
	}
	log.Warn().Msg("cold-start: relaxed criteria empty, falling back to any recent corpus")

	anyPosts, err := e.backend.RecentPosts(14, nil, 5000)
	if err != nil {
		return nil, err
	}
	recs = e.selectFrom(anyPosts, perAuthorCap, perInstanceCap, limit, 0)
	if len(recs) > 0 {
		return recs, nil
	}

	log.Warn().Msg("cold-start: corpus empty, falling back to embedded seed list")
	return e.seedRecommendations(limit), nil
}

func (e *Engine) selectFrom(posts []*store.Post, perAuthorCap, perInstanceCap, limit, engagementFloor int) []Recommendation {
	now := time.Now().UTC()
	var candidates []scored
	for _, p := range posts {
		if int(p.Favorites+p.Reblogs+p.Replies) < engagementFloor {
			continue
		}
		candidates = append(candidates, scored{post: p, score: trendingScore(p, now)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	authorCount := make(map[string]int)
	instanceCount := make(map[string]int)
	var recs []Recommendation
	for _, c := range candidates {
		if len(recs) >= limit {
			break
		}
		if perAuthorCap > 0 && authorCount[c.post.AuthorHandle] >= perAuthorCap {
			continue
		}
		if perInstanceCap > 0 && instanceCount[c.post.Instance] >= perInstanceCap {
			continue
		}
		authorCount[c.post.AuthorHandle]++
		instanceCount[c.post.Instance]++
		recs = append(recs, Recommendation{
			Key:            store.PostKey{Instance: c.post.Instance, PostID: c.post.PostID},
			Score:          normalizeTrending(c.score),
			ReasonCategory: "trending",
			ReasonDetail:   c.post.AuthorHandle,
		})
	}
	return recs
}

// normalizeTrending clips a raw trending score into [0,1] using a
// saturating curve; trending scores are unbounded counts, not
// probabilities, so a hard clip alone would flatten the ranking.
func normalizeTrending(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	v := raw / (raw + 20)
	if v > 1 {
		return 1
	}
	return v
}

// DiversitySplit implements a 70/20/10 shuffle: top trending in the
// user-relevant set, trending from outside the user's typical
// instances/tags, and a serendipitous sample from the top tercile
// excluding typical signals.
func (e *Engine) DiversitySplit(ctx context.Context, relevant []Recommendation, typicalInstances map[string]bool, languages []string, limit int) ([]Recommendation, error) {
	topN := (limit*70 + 99) / 100
	outsideN := (limit*20 + 99) / 100
	serendipN := limit - topN - outsideN

	var out []Recommendation
	if topN > len(relevant) {
		topN = len(relevant)
	}
	out = append(out, relevant[:topN]...)

	outside, err := e.backend.RecentPosts(14, languages, 2000)
	if err != nil {
		return out, err
	}
	now := time.Now().UTC()
	var outsideScored []scored
	for _, p := range outside {
		if typicalInstances[p.Instance] {
			continue
		}
		outsideScored = append(outsideScored, scored{post: p, score: trendingScore(p, now)})
	}
	sort.Slice(outsideScored, func(i, j int) bool { return outsideScored[i].score > outsideScored[j].score })
	for i := 0; i < outsideN && i < len(outsideScored); i++ {
		p := outsideScored[i].post
		out = append(out, Recommendation{
			Key: store.PostKey{Instance: p.Instance, PostID: p.PostID}, Score: normalizeTrending(outsideScored[i].score),
			ReasonCategory: "trending_outside_network", ReasonDetail: p.Instance,
		})
	}

	if serendipN > 0 && len(outsideScored) > 0 {
		tercileEnd := len(outsideScored) / 3
		if tercileEnd == 0 {
			tercileEnd = len(outsideScored)
		}
		perm := rand.Perm(tercileEnd)
		for i := 0; i < serendipN && i < len(perm); i++ {
			p := outsideScored[perm[i]].post
			out = append(out, Recommendation{
				Key: store.PostKey{Instance: p.Instance, PostID: p.PostID}, Score: normalizeTrending(outsideScored[perm[i]].score),
				ReasonCategory: "serendipitous", ReasonDetail: p.Instance,
			})
		}
	}

	return out, nil
}
