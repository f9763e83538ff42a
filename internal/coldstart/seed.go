package coldstart

import (
	_ "embed"
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/corgi-proxy/corgi/internal/store"
)

//go:embed seed_posts.json
var embeddedSeedJSON []byte

// seedPost is the on-disk shape of the bundled fallback corpus, used only
// when the live crawl corpus is empty.
type seedPost struct {
	Instance string  `json:"instance"`
	PostID   string  `json:"post_id"`
	Author   string  `json:"author"`
	Score    float64 `json:"score"`
}

func (e *Engine) seedRecommendations(limit int) []Recommendation {
	raw := embeddedSeedJSON
	if e.cfg.SeedListPath != "" {
		if data, err := os.ReadFile(e.cfg.SeedListPath); err == nil {
			raw = data
		} else {
			log.Warn().Err(err).Str("path", e.cfg.SeedListPath).Msg("cold-start: failed to read configured seed list, using embedded default")
		}
	}

	var posts []seedPost
	if err := json.Unmarshal(raw, &posts); err != nil {
		log.Error().Err(err).Msg("cold-start: embedded seed list failed to parse")
		return nil
	}

	var recs []Recommendation
	for _, p := range posts {
		if len(recs) >= limit {
			break
		}
		recs = append(recs, Recommendation{
			Key:            store.PostKey{Instance: p.Instance, PostID: p.PostID},
			Score:          p.Score,
			ReasonCategory: "seed",
			ReasonDetail:   p.Author,
		})
	}
	return recs
}
