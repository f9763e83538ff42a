package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/corgi-proxy/corgi/internal/store"
)

// RunLifecycleLoop runs job at sweepHour UTC every day until ctx is
// cancelled. The sweep goes through the scheduler's retry/dead-letter
// machinery like any other job.
func (s *Scheduler) RunLifecycleLoop(ctx context.Context, sweepHour int, job Job) {
	for {
		next := nextOccurrence(time.Now().UTC(), sweepHour)
		t := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("jobs: lifecycle sweep panicked")
					}
				}()
				s.execute(job)
			}()
		}
	}
}

// RunAffinityRecomputeLoop periodically drains every alias with a dirty
// author_affinity row and enqueues a recompute job for it, making
// MarkAffinityDirty's async mark (set by the interaction engine on
// every recorded interaction) actually converge to non-zero affinity
// counts instead of sitting dirty forever.
func (s *Scheduler) RunAffinityRecomputeLoop(ctx context.Context, backend store.Backend, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			aliases, err := backend.DirtyAffinityAliases()
			if err != nil {
				log.Error().Err(err).Msg("jobs: listing dirty affinity aliases failed")
				continue
			}
			for _, alias := range aliases {
				s.Enqueue(NewAffinityRecomputeJob(backend, alias))
			}
		}
	}
}

func nextOccurrence(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
