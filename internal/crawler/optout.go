package crawler

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// checkOptOut reports whether author has opted out of recommendation,
// consulting the cache first and falling back to a live profile fetch on
// a miss. A fetch failure default-allows rather than blocking discovery
// on a flaky profile endpoint.
func (c *Crawler) checkOptOut(ctx context.Context, inst Instance, author string) bool {
	cached, err := c.backend.GetOptOut(author)
	if err != nil {
		log.Warn().Err(err).Str("author", author).Msg("crawler: opt-out cache lookup failed, fetching")
	} else if cached != nil {
		return cached.OptedOut
	}

	bio, err := c.fetcher.AuthorBio(ctx, inst, author)
	if err != nil {
		log.Warn().Err(err).Str("author", author).Msg("crawler: opt-out profile fetch failed, default-allow")
		_ = c.backend.SetOptOut(author, false)
		return false
	}

	optedOut := containsAnyToken(bio, c.cfg.OptOutTokens)
	if err := c.backend.SetOptOut(author, optedOut); err != nil {
		log.Warn().Err(err).Str("author", author).Msg("crawler: failed to persist opt-out status")
	}
	return optedOut
}

func containsAnyToken(text string, tokens []string) bool {
	lower := strings.ToLower(text)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(tok)) {
			return true
		}
	}
	return false
}
