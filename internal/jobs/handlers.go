package jobs

import (
	"context"
	"time"

	"github.com/corgi-proxy/corgi/internal/crawler"
	"github.com/corgi-proxy/corgi/internal/ranking"
	"github.com/corgi-proxy/corgi/internal/store"
)

// NewRankingRefreshJob builds a ranking-refresh job for alias, keyed by
// alias so duplicate refresh requests collapse.
func NewRankingRefreshJob(engine *ranking.Engine, alias string, req ranking.Request) Job {
	return Job{
		Class: ClassRankingRefresh,
		Key:   alias,
		Run: func(ctx context.Context) error {
			_, err := engine.Rank(ctx, req)
			return err
		},
	}
}

// NeedsRankingRefresh reports whether alias's cached ranking generation is
// missing or older than stalenessSeconds.
func NeedsRankingRefresh(backend store.Backend, alias string, stalenessSeconds int) bool {
	generatedAt, err := backend.RankingGeneratedAt(alias)
	if err != nil || generatedAt == "" {
		return true
	}
	t, err := time.Parse(time.RFC3339, generatedAt)
	if err != nil {
		return true
	}
	return time.Since(t) > time.Duration(stalenessSeconds)*time.Second
}

// NewCrawlCycleJob builds a crawl-cycle job for one instance. Crawl jobs
// are never collapsed (each cycle is independently meaningful), so Key is
// left empty.
func NewCrawlCycleJob(c *crawler.Crawler, inst crawler.Instance, hashtags []string) Job {
	return Job{
		Class: ClassCrawlCycle,
		Run: func(ctx context.Context) error {
			return c.RunCycle(ctx, inst, hashtags)
		},
	}
}

// NewLifecycleSweepJob builds the daily lifecycle sweep job.
func NewLifecycleSweepJob(c *crawler.Crawler) Job {
	return Job{
		Class: ClassLifecycleSweep,
		Run: func(ctx context.Context) error {
			_, err := c.Sweep()
			return err
		},
	}
}

// NewAffinityRecomputeJob builds a job that rebuilds one alias's
// author_affinity rows from its interaction log, keyed by alias so
// duplicate recompute requests collapse.
func NewAffinityRecomputeJob(backend store.Backend, alias string) Job {
	return Job{
		Class: ClassAffinityRecompute,
		Key:   alias,
		Run: func(ctx context.Context) error {
			return backend.RecomputeAuthorAffinity(alias)
		},
	}
}
