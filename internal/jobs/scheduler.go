package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/corgi-proxy/corgi/internal/config"
)

// Scheduler is the single cooperative dispatcher for all four job
// classes. Ranking refresh and crawl cycles each run on their own bounded
// worker pool (config.JobsConfig's *Workers counts), and affinity
// recompute shares the ranking-refresh pool; the lifecycle sweep
// runs on its own daily ticker since it is never concurrent with itself.
type Scheduler struct {
	cfg config.JobsConfig

	rankingPool *pool.Pool
	crawlPool   *pool.Pool

	mu       sync.Mutex
	inFlight map[string]bool

	deadMu      sync.Mutex
	deadLetters []DeadLetter
}

func New(cfg config.JobsConfig) *Scheduler {
	rankingWorkers := cfg.RankingRefreshWorkers
	if rankingWorkers <= 0 {
		rankingWorkers = 1
	}
	crawlWorkers := cfg.CrawlWorkers
	if crawlWorkers <= 0 {
		crawlWorkers = 1
	}
	return &Scheduler{
		cfg:         cfg,
		rankingPool: pool.New().WithMaxGoroutines(rankingWorkers),
		crawlPool:   pool.New().WithMaxGoroutines(crawlWorkers),
		inFlight:    make(map[string]bool),
	}
}

func dedupeKey(class Class, key string) string {
	return string(class) + "\x00" + key
}

// Enqueue submits job to the pool matching its class. A job with a
// non-empty Key collapses against any same-class job already in flight
// with the same key; the lifecycle sweep has no pool of its own and is
// expected to be driven by RunLifecycleLoop instead.
func (s *Scheduler) Enqueue(job Job) {
	if job.Key != "" {
		dk := dedupeKey(job.Class, job.Key)
		s.mu.Lock()
		if s.inFlight[dk] {
			s.mu.Unlock()
			log.Debug().Str("class", string(job.Class)).Str("key", job.Key).Msg("jobs: duplicate enqueue collapsed")
			return
		}
		s.inFlight[dk] = true
		s.mu.Unlock()
	}

	submit := func(p *pool.Pool) {
		p.Go(func() {
			if job.Key != "" {
				defer func() {
					s.mu.Lock()
					delete(s.inFlight, dedupeKey(job.Class, job.Key))
					s.mu.Unlock()
				}()
			}
			s.execute(job)
		})
	}

	switch job.Class {
	case ClassRankingRefresh, ClassAffinityRecompute:
		submit(s.rankingPool)
	case ClassCrawlCycle:
		submit(s.crawlPool)
	default:
		submit(s.rankingPool)
	}
}

// execute runs one job with retry/backoff and records it to the
// dead-letter list if the retry budget is exhausted.
func (s *Scheduler) execute(job Job) {
	ctx := context.Background()
	attempts, err := runWithRetry(ctx, s.cfg, job.Run)
	if err != nil {
		log.Error().Err(err).Str("class", string(job.Class)).Str("key", job.Key).
			Int("attempts", attempts).Msg("jobs: job exhausted retry budget, dead-lettering")
		s.deadMu.Lock()
		s.deadLetters = append(s.deadLetters, DeadLetter{
			Class: job.Class, Key: job.Key, Err: err, Attempts: attempts, FailedAt: time.Now().UTC(),
		})
		s.deadMu.Unlock()
	}
}

// DeadLetters returns a snapshot of jobs that exhausted their retry budget.
func (s *Scheduler) DeadLetters() []DeadLetter {
	s.deadMu.Lock()
	defer s.deadMu.Unlock()
	out := make([]DeadLetter, len(s.deadLetters))
	copy(out, s.deadLetters)
	return out
}

// Shutdown waits for all in-flight jobs to finish, honoring ctx's
// deadline as the global drain signal.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.rankingPool.Wait()
		s.crawlPool.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
