package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/corgi-proxy/corgi/internal/store"
	"github.com/corgi-proxy/corgi/internal/testutil"
)

func seedRanking(t *testing.T, backend store.Backend, alias, generatedAt string) {
	t.Helper()
	record := &store.RankingRecord{
		Alias: alias, Instance: "a.social", PostID: "1",
		Score: 1, ReasonCategory: "engagement", GeneratedAt: generatedAt,
	}
	if err := backend.ReplaceRankings(alias, []*store.RankingRecord{record}); err != nil {
		t.Fatalf("ReplaceRankings: %v", err)
	}
}

func TestNeedsRankingRefresh_TrueWhenNoneExists(t *testing.T) {
	backend := testutil.NewTestStore(t)
	if !NeedsRankingRefresh(backend, "alice", 300) {
		t.Fatal("expected refresh to be needed when no generation exists")
	}
}

func TestNeedsRankingRefresh_FalseWhenFresh(t *testing.T) {
	backend := testutil.NewTestStore(t)
	seedRanking(t, backend, "alice", time.Now().UTC().Format(time.RFC3339))
	if NeedsRankingRefresh(backend, "alice", 3600) {
		t.Fatal("expected a freshly generated ranking to not need refresh")
	}
}

func TestNeedsRankingRefresh_TrueWhenStale(t *testing.T) {
	backend := testutil.NewTestStore(t)
	stale := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	seedRanking(t, backend, "alice", stale)
	if !NeedsRankingRefresh(backend, "alice", 60) {
		t.Fatal("expected an hour-old ranking to need refresh past a 60s staleness window")
	}
}

func TestNewAffinityRecomputeJob_ClearsDirtyFlag(t *testing.T) {
	backend := testutil.NewTestStore(t)
	now := time.Now().UTC().Format(time.RFC3339)

	if err := backend.UpsertPost(&store.Post{Instance: "a.social", PostID: "1", AuthorHandle: "bob@a.social", CreatedAt: now, DiscoveredAt: now}); err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}
	if err := backend.InsertInteraction(&store.Interaction{Alias: "alice", Instance: "a.social", PostID: "1", Action: "favorite", Timestamp: now}); err != nil {
		t.Fatalf("InsertInteraction: %v", err)
	}
	if err := backend.MarkAffinityDirty("alice", "bob@a.social"); err != nil {
		t.Fatalf("MarkAffinityDirty: %v", err)
	}

	job := NewAffinityRecomputeJob(backend, "alice")
	if job.Class != ClassAffinityRecompute || job.Key != "alice" {
		t.Fatalf("unexpected job shape: %+v", job)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	a, err := backend.GetAuthorAffinity("alice", "bob@a.social")
	if err != nil {
		t.Fatalf("GetAuthorAffinity: %v", err)
	}
	if a.Dirty {
		t.Error("expected recompute to clear the dirty flag")
	}
	if a.PositiveCount != 1 || a.TotalCount != 1 {
		t.Errorf("expected counts reflecting the favorite, got %+v", a)
	}
}
