package crawler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/corgi-proxy/corgi/internal/config"
	"github.com/corgi-proxy/corgi/internal/store"
)

// engagedAuthorSampleSize bounds how many already-known engaged authors
// are re-crawled for fresh posts per cycle.
const engagedAuthorSampleSize = 20

// Crawler discovers posts across configured upstream instances, honoring
// opt-out, per-instance politeness, and health-based cool-down.
type Crawler struct {
	backend  store.Backend
	fetcher  Fetcher
	detector *LanguageDetector
	cfg      config.CrawlerConfig

	mu          sync.Mutex
	instLocks   map[string]*sync.Mutex
	watermarks  map[string]string
	lastRequest map[string]time.Time
}

func New(backend store.Backend, fetcher Fetcher, detector *LanguageDetector, cfg config.CrawlerConfig) *Crawler {
	return &Crawler{
		backend: backend, fetcher: fetcher, detector: detector, cfg: cfg,
		instLocks: make(map[string]*sync.Mutex), watermarks: make(map[string]string),
		lastRequest: make(map[string]time.Time),
	}
}

func (c *Crawler) lockFor(instance string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.instLocks[instance]
	if !ok {
		l = &sync.Mutex{}
		c.instLocks[instance] = l
	}
	return l
}

// politeDelay blocks until at least MinRequestIntervalMs has elapsed
// since the instance's last request, enforcing the floor regardless of
// what upstream's own rate-limit headers say.
func (c *Crawler) politeDelay(ctx context.Context, instance string) error {
	floor := time.Duration(c.cfg.MinRequestIntervalMs) * time.Millisecond
	if floor <= 0 {
		return nil
	}
	c.mu.Lock()
	last, ok := c.lastRequest[instance]
	c.mu.Unlock()

	if ok {
		wait := floor - time.Since(last)
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	c.mu.Lock()
	c.lastRequest[instance] = time.Now()
	c.mu.Unlock()
	return nil
}

// RunCycle performs one discovery pass over inst: the public timeline,
// each configured hashtag timeline, and a sample of already-engaged
// authors' recent posts. At most one cycle runs per instance at a time;
// a cycle already in flight is skipped rather than queued.
func (c *Crawler) RunCycle(ctx context.Context, inst Instance, hashtags []string) error {
	lock := c.lockFor(inst.Name)
	if !lock.TryLock() {
		log.Debug().Str("instance", inst.Name).Msg("crawler: cycle already in flight, skipping")
		return nil
	}
	defer lock.Unlock()

	health, err := c.backend.GetInstanceHealth(inst.Name)
	if err != nil {
		return err
	}
	if health.IsInCooldown() {
		log.Debug().Str("instance", inst.Name).Msg("crawler: instance in cool-down, skipping cycle")
		return nil
	}

	var remote []RemotePost
	var cycleErr error

	if err := c.politeDelay(ctx, inst.Name); err == nil {
		c.mu.Lock()
		watermark := c.watermarks[inst.Name]
		c.mu.Unlock()

		posts, newWatermark, err := c.fetcher.PublicTimeline(ctx, inst, watermark)
		if err != nil {
			cycleErr = err
		} else {
			remote = append(remote, posts...)
			c.mu.Lock()
			c.watermarks[inst.Name] = newWatermark
			c.mu.Unlock()
		}
	} else {
		return err
	}

	for _, tag := range hashtags {
		if err := c.politeDelay(ctx, inst.Name); err != nil {
			return err
		}
		posts, err := c.fetcher.HashtagTimeline(ctx, inst, tag)
		if err != nil {
			cycleErr = err
			continue
		}
		remote = append(remote, posts...)
	}

	for _, author := range c.discoverEngagedAuthors(inst.Name) {
		if err := c.politeDelay(ctx, inst.Name); err != nil {
			return err
		}
		posts, err := c.fetcher.AuthorPosts(ctx, inst, author)
		if err != nil {
			cycleErr = err
			continue
		}
		remote = append(remote, posts...)
	}

	if cycleErr != nil {
		if _, err := c.backend.RecordFailure(inst.Name, c.cfg.FailureThreshold, time.Duration(c.cfg.CooldownSeconds)*time.Second); err != nil {
			return err
		}
		return cycleErr
	}

	for _, rp := range dedupeByID(remote) {
		if c.checkOptOut(ctx, inst, rp.AuthorHandle) {
			continue
		}
		if err := c.ingest(inst.Name, rp); err != nil {
			log.Warn().Err(err).Str("instance", inst.Name).Str("post_id", rp.PostID).Msg("crawler: failed to ingest post")
		}
	}

	return c.backend.RecordSuccess(inst.Name)
}

func dedupeByID(posts []RemotePost) []RemotePost {
	seen := make(map[string]bool, len(posts))
	out := make([]RemotePost, 0, len(posts))
	for _, p := range posts {
		if seen[p.PostID] {
			continue
		}
		seen[p.PostID] = true
		out = append(out, p)
	}
	return out
}

// ingest detects language and upserts one remote post into the corpus.
func (c *Crawler) ingest(instance string, rp RemotePost) error {
	detection := c.detector.Detect(rp.Content)
	p := &store.Post{
		Instance: instance, PostID: rp.PostID, AuthorHandle: rp.AuthorHandle,
		Content: rp.Content, CreatedAt: rp.CreatedAt,
		Language: detection.Language, LanguageConfidence: detection.Confidence,
		Favorites: rp.Favorites, Reblogs: rp.Reblogs, Replies: rp.Replies,
		MediaJSON: rp.MediaJSON, DiscoverySource: "crawl",
		DiscoveredAt: time.Now().UTC().Format(time.RFC3339), DiscoveryReason: "cycle",
	}
	return c.backend.UpsertPost(p)
}

// discoverEngagedAuthors samples the corpus's most-engaged authors as a
// proxy for "authors discovered via engagement". A true per-alias
// interaction-history join is left to the ranking
// engine's candidate selection, which already has that data; the
// crawler only needs a reasonable set of authors worth re-polling.
func (c *Crawler) discoverEngagedAuthors(instance string) []string {
	posts, err := c.backend.RecentPosts(c.cfg.FreshnessWindowDays, nil, 500)
	if err != nil {
		log.Warn().Err(err).Msg("crawler: failed to sample engaged authors")
		return nil
	}

	suffix := "@" + instance
	totals := make(map[string]int64)
	for _, p := range posts {
		if !strings.HasSuffix(p.AuthorHandle, suffix) {
			continue
		}
		totals[p.AuthorHandle] += p.Favorites + p.Reblogs + p.Replies
	}
	authors := make([]string, 0, len(totals))
	for a := range totals {
		authors = append(authors, a)
	}
	sort.Slice(authors, func(i, j int) bool { return totals[authors[i]] > totals[authors[j]] })
	if len(authors) > engagedAuthorSampleSize {
		authors = authors[:engagedAuthorSampleSize]
	}
	return authors
}
