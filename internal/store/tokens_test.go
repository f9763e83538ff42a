package store

import (
	"context"
	"testing"
)

func TestResolveToken_Found(t *testing.T) {
	st := openTestStore(t)
	if err := st.PutTokenMapping(&TokenMapping{Alias: "alice", Instance: "a.social", OpaqueToken: "tok-1"}); err != nil {
		t.Fatalf("PutTokenMapping: %v", err)
	}

	alias, ok := st.ResolveToken(context.Background(), "a.social", "tok-1")
	if !ok {
		t.Fatal("expected token to resolve")
	}
	if alias != "alice" {
		t.Errorf("alias: got %q, want %q", alias, "alice")
	}
}

func TestResolveToken_NotFound(t *testing.T) {
	st := openTestStore(t)
	_, ok := st.ResolveToken(context.Background(), "a.social", "nonexistent")
	if ok {
		t.Error("expected unknown token to not resolve")
	}
}

func TestDeleteTokenMapping(t *testing.T) {
	st := openTestStore(t)
	st.PutTokenMapping(&TokenMapping{Alias: "alice", Instance: "a.social", OpaqueToken: "tok-1"})

	if err := st.DeleteTokenMapping("a.social", "tok-1"); err != nil {
		t.Fatalf("DeleteTokenMapping: %v", err)
	}
	_, ok := st.ResolveToken(context.Background(), "a.social", "tok-1")
	if ok {
		t.Error("expected token to be revoked")
	}
}

func TestPutTokenMapping_UpdatesOnConflict(t *testing.T) {
	st := openTestStore(t)
	st.PutTokenMapping(&TokenMapping{Alias: "alice", Instance: "a.social", OpaqueToken: "tok-1"})
	st.PutTokenMapping(&TokenMapping{Alias: "bob", Instance: "a.social", OpaqueToken: "tok-1"})

	alias, ok := st.ResolveToken(context.Background(), "a.social", "tok-1")
	if !ok || alias != "bob" {
		t.Errorf("expected token to now resolve to bob, got %q, ok=%v", alias, ok)
	}
}
