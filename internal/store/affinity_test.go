package store

import (
	"testing"
	"time"
)

func TestGetAuthorAffinity_ZeroValueWhenMissing(t *testing.T) {
	st := openTestStore(t)
	a, err := st.GetAuthorAffinity("alice", "nobody@a.social")
	if err != nil {
		t.Fatalf("GetAuthorAffinity: %v", err)
	}
	if a.PositiveCount != 0 || a.TotalCount != 0 {
		t.Errorf("expected zero-value affinity, got %+v", a)
	}
}

func TestMarkAffinityDirty(t *testing.T) {
	st := openTestStore(t)
	if err := st.MarkAffinityDirty("alice", "bob@a.social"); err != nil {
		t.Fatalf("MarkAffinityDirty: %v", err)
	}
	a, err := st.GetAuthorAffinity("alice", "bob@a.social")
	if err != nil {
		t.Fatalf("GetAuthorAffinity: %v", err)
	}
	if !a.Dirty {
		t.Error("expected affinity summary to be marked dirty")
	}
}

func TestRecomputeAuthorAffinity(t *testing.T) {
	st := openTestStore(t)
	now := time.Now().UTC().Format(time.RFC3339)

	if err := st.UpsertPost(&Post{Instance: "a.social", PostID: "1", AuthorHandle: "bob@a.social", CreatedAt: now, DiscoveredAt: now}); err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}
	if err := st.UpsertPost(&Post{Instance: "a.social", PostID: "2", AuthorHandle: "bob@a.social", CreatedAt: now, DiscoveredAt: now}); err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}

	st.InsertInteraction(&Interaction{Alias: "alice", Instance: "a.social", PostID: "1", Action: "favorite", Timestamp: now})
	st.InsertInteraction(&Interaction{Alias: "alice", Instance: "a.social", PostID: "2", Action: "view", Timestamp: now})

	if err := st.RecomputeAuthorAffinity("alice"); err != nil {
		t.Fatalf("RecomputeAuthorAffinity: %v", err)
	}

	a, err := st.GetAuthorAffinity("alice", "bob@a.social")
	if err != nil {
		t.Fatalf("GetAuthorAffinity: %v", err)
	}
	if a.TotalCount != 2 {
		t.Errorf("TotalCount: got %d, want 2", a.TotalCount)
	}
	if a.PositiveCount != 1 {
		t.Errorf("PositiveCount: got %d, want 1 (only 'favorite' counts, not 'view')", a.PositiveCount)
	}
	if a.Dirty {
		t.Error("expected recomputed affinity to be clean")
	}
}

func TestDirtyAffinityAliases(t *testing.T) {
	st := openTestStore(t)

	if err := st.MarkAffinityDirty("alice", "bob@a.social"); err != nil {
		t.Fatalf("MarkAffinityDirty: %v", err)
	}
	if err := st.MarkAffinityDirty("carol", "bob@a.social"); err != nil {
		t.Fatalf("MarkAffinityDirty: %v", err)
	}

	aliases, err := st.DirtyAffinityAliases()
	if err != nil {
		t.Fatalf("DirtyAffinityAliases: %v", err)
	}
	if len(aliases) != 2 {
		t.Fatalf("expected 2 dirty aliases, got %d (%v)", len(aliases), aliases)
	}

	if err := st.RecomputeAuthorAffinity("alice"); err != nil {
		t.Fatalf("RecomputeAuthorAffinity: %v", err)
	}
	aliases, err = st.DirtyAffinityAliases()
	if err != nil {
		t.Fatalf("DirtyAffinityAliases: %v", err)
	}
	if len(aliases) != 1 || aliases[0] != "carol" {
		t.Errorf("expected only carol still dirty after alice's recompute, got %v", aliases)
	}
}

func TestListAuthorAffinity(t *testing.T) {
	st := openTestStore(t)
	now := time.Now().UTC().Format(time.RFC3339)

	st.UpsertPost(&Post{Instance: "a.social", PostID: "1", AuthorHandle: "bob@a.social", CreatedAt: now, DiscoveredAt: now})
	st.UpsertPost(&Post{Instance: "a.social", PostID: "2", AuthorHandle: "carol@a.social", CreatedAt: now, DiscoveredAt: now})
	st.InsertInteraction(&Interaction{Alias: "alice", Instance: "a.social", PostID: "1", Action: "favorite", Timestamp: now})
	st.InsertInteraction(&Interaction{Alias: "alice", Instance: "a.social", PostID: "2", Action: "reblog", Timestamp: now})
	st.RecomputeAuthorAffinity("alice")

	all, err := st.ListAuthorAffinity("alice")
	if err != nil {
		t.Fatalf("ListAuthorAffinity: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 affinity summaries, got %d", len(all))
	}
}
