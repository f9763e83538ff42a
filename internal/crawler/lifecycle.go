package crawler

import "github.com/rs/zerolog/log"

// SweepResult tallies what a lifecycle sweep removed.
type SweepResult struct {
	StalePosts   int64
	ExpiredOptOut int64
}

// Sweep deletes posts past the freshness window and opt-out cache entries
// past their TTL. Safe to call concurrently with crawl cycles; deletions
// are independent of any in-flight fetch.
func (c *Crawler) Sweep() (SweepResult, error) {
	stale, err := c.backend.DeleteStalePosts(c.cfg.FreshnessWindowDays)
	if err != nil {
		return SweepResult{}, err
	}
	expired, err := c.backend.DeleteExpiredOptOut(c.cfg.OptOutCacheTTLHours)
	if err != nil {
		return SweepResult{StalePosts: stale}, err
	}
	log.Info().Int64("stale_posts", stale).Int64("expired_opt_out", expired).Msg("crawler: lifecycle sweep complete")
	return SweepResult{StalePosts: stale, ExpiredOptOut: expired}, nil
}
