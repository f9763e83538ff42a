// Package jobs runs the background job classes a cooperative scheduler
// drives: ranking refresh, crawl cycles, the lifecycle sweep, and
// author-affinity recomputation.
package jobs

import (
	"context"
	"time"
)

// Class identifies which job family a Job belongs to.
type Class string

const (
	ClassRankingRefresh    Class = "ranking_refresh"
	ClassCrawlCycle        Class = "crawl_cycle"
	ClassLifecycleSweep    Class = "lifecycle_sweep"
	ClassAffinityRecompute Class = "affinity_recompute"
)

// Job is one unit of work. Key is the idempotency key used to collapse
// duplicate enqueues within a class (e.g. a ranking refresh keyed by
// alias collapses duplicate enqueues for the same alias); an empty Key
// means this job is never collapsed.
type Job struct {
	Class Class
	Key   string
	Run   func(ctx context.Context) error
}

// DeadLetter records a job that exhausted its retry budget.
type DeadLetter struct {
	Class   Class
	Key     string
	Err     error
	Attempts int
	FailedAt time.Time
}
