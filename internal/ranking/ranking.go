// Package ranking implements the candidate selection, scoring, and
// persistence pipeline of the personalization engine.
package ranking

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/corgi-proxy/corgi/internal/apierr"
	"github.com/corgi-proxy/corgi/internal/coldstart"
	"github.com/corgi-proxy/corgi/internal/config"
	"github.com/corgi-proxy/corgi/internal/store"
)

// Engine produces and persists ranking generations for resolved aliases,
// delegating to a coldstart.Engine for anonymous aliases and empty
// candidate sets.
type Engine struct {
	backend   store.Backend
	cfg       config.RankingConfig
	coldstart *coldstart.Engine
}

func New(backend store.Backend, cfg config.RankingConfig, cs *coldstart.Engine) *Engine {
	return &Engine{backend: backend, cfg: cfg, coldstart: cs}
}

// Request bundles one ranking call's inputs.
type Request struct {
	Alias           string
	Anonymous       bool
	Limit           int
	MinScore        float64
	ExcludePostKeys []store.PostKey
	Languages       []string
	ModelID         string
	Diversity       bool
}

// Rank runs the full pipeline and returns the resulting recommendations,
// persisting them via ReplaceRankings. Anonymous aliases and empty
// candidate sets delegate to cold-start.
func (e *Engine) Rank(ctx context.Context, req Request) ([]coldstart.Recommendation, error) {
	if req.Anonymous || req.Alias == "" {
		return e.coldstart.Select(ctx, req.Languages, e.cfg.PerAuthorCap, e.cfg.PerInstanceCap, req.Limit)
	}

	exclude := make(map[store.PostKey]bool, len(req.ExcludePostKeys))
	for _, k := range req.ExcludePostKeys {
		exclude[k] = true
	}

	candidates, err := e.selectCandidates(req.Alias, req.Languages, exclude)
	if err != nil {
		return nil, apierr.New(apierr.KindRankingUnavailable, "ranking: candidate selection failed: %v", err)
	}
	if len(candidates) == 0 {
		return e.coldstart.Select(ctx, req.Languages, e.cfg.PerAuthorCap, e.cfg.PerInstanceCap, req.Limit)
	}

	model, ok := e.cfg.Models[req.ModelID]
	if !ok {
		model, ok = e.cfg.Models[e.cfg.DefaultModel]
	}
	if !ok {
		model = config.ModelConfig{Normalizer: "minmax", WeightAffinity: 0.3, WeightEngagement: 0.3, WeightRecency: 0.25, WeightContent: 0.15, RecencyHalfLifeHours: 24}
	}
	normalize := normalizerFor(model.Normalizer)

	affinities, err := e.backend.ListAuthorAffinity(req.Alias)
	if err != nil {
		return nil, apierr.New(apierr.KindRankingUnavailable, "ranking: affinity lookup failed: %v", err)
	}
	preferredLanguages := e.buildPreferredLanguages(req.Alias)

	now := time.Now().UTC()
	raw := make([]subScores, len(candidates))
	engagementValues := make([]float64, len(candidates))
	for i, p := range candidates {
		raw[i] = subScores{
			affinity:   affinityScore(affinities[p.AuthorHandle], e.cfg.AffinitySmoothingAlpha),
			engagement: rawEngagement(p),
			recency:    recencyScore(p, now, model.RecencyHalfLifeHours),
			content:    contentAffinityScore(p, preferredLanguages),
		}
		engagementValues[i] = raw[i].engagement
	}
	normalizedEngagement := normalize(engagementValues)
	for i := range raw {
		raw[i].engagement = normalizedEngagement[i]
	}

	results := make([]rankResult, 0, len(candidates))
	for i, p := range candidates {
		s := raw[i]
		category, _ := s.reasonFor(model)
		score := clip01(
			s.affinity*model.WeightAffinity +
				s.engagement*model.WeightEngagement +
				s.recency*model.WeightRecency +
				s.content*model.WeightContent,
		)
		if score < req.MinScore {
			continue
		}
		detail := p.AuthorHandle
		if category == "content_affinity" {
			detail = p.Language
		}
		results = append(results, rankResult{post: p, score: score, reasonCategory: category, reasonDetail: detail})
	}

	sortResultsByScoreDesc(results)

	authorCount := make(map[string]int)
	instanceCount := make(map[string]int)
	final := make([]coldstart.Recommendation, 0, req.Limit)
	records := make([]*store.RankingRecord, 0, req.Limit)
	generatedAt := now.Format(time.RFC3339)
	for _, r := range results {
		if len(final) >= req.Limit {
			break
		}
		if e.cfg.PerAuthorCap > 0 && authorCount[r.post.AuthorHandle] >= e.cfg.PerAuthorCap {
			continue
		}
		if e.cfg.PerInstanceCap > 0 && instanceCount[r.post.Instance] >= e.cfg.PerInstanceCap {
			continue
		}
		authorCount[r.post.AuthorHandle]++
		instanceCount[r.post.Instance]++
		key := store.PostKey{Instance: r.post.Instance, PostID: r.post.PostID}
		final = append(final, coldstart.Recommendation{
			Key: key, Score: r.score, ReasonCategory: r.reasonCategory, ReasonDetail: r.reasonDetail,
		})
		records = append(records, &store.RankingRecord{
			Alias: req.Alias, Instance: key.Instance, PostID: key.PostID,
			Score: r.score, ReasonCategory: r.reasonCategory, ReasonDetail: r.reasonDetail, GeneratedAt: generatedAt,
		})
	}

	if req.Diversity {
		typicalInstances := make(map[string]bool)
		for _, p := range candidates {
			typicalInstances[p.Instance] = true
		}
		mixed, err := e.coldstart.DiversitySplit(ctx, final, typicalInstances, req.Languages, req.Limit)
		if err != nil {
			log.Warn().Err(err).Msg("ranking: diversity split failed, serving undiversified ranking")
		} else {
			final = mixed
		}
	}

	if err := e.backend.ReplaceRankings(req.Alias, records); err != nil {
		return nil, apierr.New(apierr.KindRankingUnavailable, "ranking: persistence failed: %v", err)
	}

	return final, nil
}

// rankResult pairs a candidate with its final weighted score and
// attributed reason, ready for capping, persistence, and output.
type rankResult struct {
	post           *store.Post
	score          float64
	reasonCategory string
	reasonDetail   string
}

func sortResultsByScoreDesc(results []rankResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].score > results[j-1].score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
