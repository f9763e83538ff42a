package interaction

import (
	"context"
	"testing"
	"time"

	"github.com/corgi-proxy/corgi/internal/config"
	"github.com/corgi-proxy/corgi/internal/store"
	"github.com/corgi-proxy/corgi/internal/testutil"
)

func TestValidateAction_NormalizesSynonyms(t *testing.T) {
	cases := map[string]string{"share": "reblog", "comment": "reply", "click": "view"}
	for input, want := range cases {
		got, err := ValidateAction(input)
		if err != nil {
			t.Fatalf("ValidateAction(%q): %v", input, err)
		}
		if got != want {
			t.Errorf("ValidateAction(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestValidateAction_RejectsUnknown(t *testing.T) {
	if _, err := ValidateAction("explode"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestValidateContext_RejectsDenylistedKeys(t *testing.T) {
	ctx := map[string]interface{}{"__proto__": "x"}
	if err := ValidateContext(ctx, 5); err == nil {
		t.Fatal("expected error for denylisted key")
	}
}

func TestValidateContext_RejectsExcessiveDepth(t *testing.T) {
	ctx := map[string]interface{}{
		"a": map[string]interface{}{
			"b": map[string]interface{}{
				"c": "too deep",
			},
		},
	}
	if err := ValidateContext(ctx, 2); err == nil {
		t.Fatal("expected error for excessive nesting depth")
	}
}

func TestSanitizeFreeText_RejectsNullByte(t *testing.T) {
	if err := SanitizeFreeText("note", "hello\x00world", 100); err == nil {
		t.Fatal("expected error for null byte")
	}
}

func TestSanitizeFreeText_RejectsSQLInjectionSignature(t *testing.T) {
	if err := SanitizeFreeText("note", "1; DROP TABLE posts;", 100); err == nil {
		t.Fatal("expected error for SQL injection signature")
	}
}

func TestSanitizeFreeText_RejectsActionTokenCollision(t *testing.T) {
	if err := SanitizeFreeText("note", "  Reblog  ", 100); err == nil {
		t.Fatal("expected error for action token collision")
	}
}

func TestEngine_Record_PersistsAndInvalidatesRankings(t *testing.T) {
	backend := testutil.NewTestStore(t)
	post := testutil.SamplePost("a.social", "1", 1)
	if err := backend.UpsertPost(post); err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}
	if err := backend.ReplaceRankings("alice", []*store.RankingRecord{{
		Alias: "alice", Instance: "a.social", PostID: "1", Score: 0.5,
		ReasonCategory: "engagement", ReasonDetail: "x",
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}}); err != nil {
		t.Fatalf("ReplaceRankings: %v", err)
	}

	cfg := config.InteractionConfig{MaxContextDepth: 5, MaxFieldLength: 500}
	e := New(backend, cfg, nil)

	result, err := e.Record(context.Background(), Request{
		Alias: "alice", Instance: "a.social", PostID: "1", Action: "favorite",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !result.Accepted || result.EffectiveState != "favorite" {
		t.Errorf("unexpected result: %+v", result)
	}

	interactions, err := backend.InteractionsByAlias("alice")
	if err != nil {
		t.Fatalf("InteractionsByAlias: %v", err)
	}
	if len(interactions) != 1 {
		t.Fatalf("expected 1 persisted interaction, got %d", len(interactions))
	}

	rankings, err := backend.GetRankings("alice", 10)
	if err != nil {
		t.Fatalf("GetRankings: %v", err)
	}
	if len(rankings) != 0 {
		t.Errorf("expected rankings invalidated after Record, got %d", len(rankings))
	}
}

func TestEngine_Record_ToggleFamilyEffectiveState(t *testing.T) {
	backend := testutil.NewTestStore(t)
	post := testutil.SamplePost("a.social", "1", 1)
	if err := backend.UpsertPost(post); err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}
	cfg := config.InteractionConfig{MaxContextDepth: 5, MaxFieldLength: 500}
	e := New(backend, cfg, nil)
	ctx := context.Background()

	if _, err := e.Record(ctx, Request{Alias: "bob", Instance: "a.social", PostID: "1", Action: "favorite"}); err != nil {
		t.Fatalf("Record favorite: %v", err)
	}
	result, err := e.Record(ctx, Request{Alias: "bob", Instance: "a.social", PostID: "1", Action: "favorite"})
	if err != nil {
		t.Fatalf("Record second favorite: %v", err)
	}
	if result.EffectiveState != "favorite" {
		t.Errorf("expected effective state favorite, got %q", result.EffectiveState)
	}
}

func TestEngine_Record_RejectsInvalidPostKey(t *testing.T) {
	backend := testutil.NewTestStore(t)
	cfg := config.InteractionConfig{MaxContextDepth: 5, MaxFieldLength: 500}
	e := New(backend, cfg, nil)

	_, err := e.Record(context.Background(), Request{Alias: "alice", Instance: "", PostID: "1", Action: "view"})
	if err == nil {
		t.Fatal("expected error for missing instance")
	}
}
