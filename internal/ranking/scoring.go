package ranking

import (
	"math"
	"time"

	"github.com/corgi-proxy/corgi/internal/config"
	"github.com/corgi-proxy/corgi/internal/store"
)

// subScores holds one candidate's four raw sub-scores before normalization.
type subScores struct {
	affinity   float64
	engagement float64
	recency    float64
	content    float64
}

// reasonFor names the largest-contributing sub-score as the reason
// category.
func (s subScores) reasonFor(weights config.ModelConfig) (category string, weighted float64) {
	contributions := map[string]float64{
		"author_affinity":  s.affinity * weights.WeightAffinity,
		"engagement":       s.engagement * weights.WeightEngagement,
		"recency":          s.recency * weights.WeightRecency,
		"content_affinity": s.content * weights.WeightContent,
	}
	for cat, v := range contributions {
		if v > weighted {
			weighted = v
			category = cat
		}
	}
	if category == "" {
		category = "engagement"
	}
	return category, weighted
}

// affinityScore computes positive_count/(total_count + alpha) with
// Laplace-style smoothing; 0 for an unknown author.
func affinityScore(a *store.AuthorAffinity, alpha float64) float64 {
	if a == nil || a.TotalCount == 0 {
		return 0
	}
	return float64(a.PositiveCount) / (float64(a.TotalCount) + alpha)
}

// rawEngagement computes favorites + 2*reblogs + 1.5*replies for a post.
func rawEngagement(p *store.Post) float64 {
	return float64(p.Favorites) + 2*float64(p.Reblogs) + 1.5*float64(p.Replies)
}

// recencyScore applies exponential decay with a configurable half-life.
func recencyScore(p *store.Post, now time.Time, halfLifeHours float64) float64 {
	if halfLifeHours <= 0 {
		halfLifeHours = 24
	}
	createdAt, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		createdAt = now
	}
	ageHours := now.Sub(createdAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-math.Ln2 * ageHours / halfLifeHours)
}

// contentAffinityScore measures language overlap between a candidate and
// the languages the alias has engaged with positively.
func contentAffinityScore(p *store.Post, preferredLanguages map[string]int) float64 {
	if len(preferredLanguages) == 0 {
		return 0
	}
	total := 0
	for _, n := range preferredLanguages {
		total += n
	}
	if total == 0 {
		return 0
	}
	return float64(preferredLanguages[p.Language]) / float64(total)
}

// buildPreferredLanguages tallies the languages behind an alias's
// positively-engaged posts, feeding contentAffinityScore.
func (e *Engine) buildPreferredLanguages(alias string) map[string]int {
	interactions, err := e.backend.InteractionsByAlias(alias)
	if err != nil {
		return nil
	}
	tally := make(map[string]int)
	for _, in := range interactions {
		if !positiveActions[in.Action] {
			continue
		}
		post, err := e.backend.GetPost(store.PostKey{Instance: in.Instance, PostID: in.PostID})
		if err != nil {
			continue
		}
		tally[post.Language]++
	}
	return tally
}

// positiveActions mirrors the action classification used for author
// affinity, applied here to content-affinity language tallying.
var positiveActions = map[string]bool{
	"favorite": true, "reblog": true, "reply": true, "bookmark": true, "more_like_this": true,
}
