package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corgi-proxy/corgi/internal/config"
	"github.com/corgi-proxy/corgi/internal/store"
	"github.com/corgi-proxy/corgi/internal/testutil"
)

type fakeFetcher struct {
	timeline []RemotePost
	hashtag  map[string][]RemotePost
	author   map[string][]RemotePost
	bios     map[string]string
	err      error
}

func (f *fakeFetcher) PublicTimeline(ctx context.Context, inst Instance, sinceID string) ([]RemotePost, string, error) {
	if f.err != nil {
		return nil, sinceID, f.err
	}
	watermark := sinceID
	for _, p := range f.timeline {
		if p.PostID > watermark {
			watermark = p.PostID
		}
	}
	return f.timeline, watermark, nil
}

func (f *fakeFetcher) HashtagTimeline(ctx context.Context, inst Instance, hashtag string) ([]RemotePost, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hashtag[hashtag], nil
}

func (f *fakeFetcher) AuthorPosts(ctx context.Context, inst Instance, author string) ([]RemotePost, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.author[author], nil
}

func (f *fakeFetcher) AuthorBio(ctx context.Context, inst Instance, author string) (string, error) {
	return f.bios[author], nil
}

var _ Fetcher = (*fakeFetcher)(nil)

var errBoom = &httpStatusError{instance: "a.social", status: 503}

func newTestCrawler(t *testing.T, fetcher Fetcher, cfg config.CrawlerConfig) (*Crawler, store.Backend) {
	t.Helper()
	backend := testutil.NewTestStore(t)
	return New(backend, fetcher, NewLanguageDetector(), cfg), backend
}

func baseCfg() config.CrawlerConfig {
	return config.CrawlerConfig{
		Enabled: true, MinRequestIntervalMs: 0, FailureThreshold: 3,
		CooldownSeconds: 3600, FreshnessWindowDays: 30, OptOutCacheTTLHours: 24,
	}
}

func TestRunCycle_IngestsPublicTimeline(t *testing.T) {
	fetcher := &fakeFetcher{
		timeline: []RemotePost{
			{PostID: "1", AuthorHandle: "alice@a.social", Content: "hello world, this is a decently long post", CreatedAt: "2026-01-01T00:00:00Z"},
		},
		bios: map[string]string{"alice@a.social": "just a person"},
	}
	c, backend := newTestCrawler(t, fetcher, baseCfg())
	inst := Instance{Name: "a.social", Host: "a.social"}

	if err := c.RunCycle(context.Background(), inst, nil); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	post, err := backend.GetPost(store.PostKey{Instance: "a.social", PostID: "1"})
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if post.AuthorHandle != "alice@a.social" {
		t.Errorf("unexpected author: %s", post.AuthorHandle)
	}
}

func TestRunCycle_SkipsOptedOutAuthor(t *testing.T) {
	fetcher := &fakeFetcher{
		timeline: []RemotePost{
			{PostID: "1", AuthorHandle: "bob@a.social", Content: "some content here that is long enough", CreatedAt: "2026-01-01T00:00:00Z"},
		},
		bios: map[string]string{"bob@a.social": "opted out #nobots"},
	}
	cfg := baseCfg()
	cfg.OptOutTokens = []string{"#nobots"}
	c, backend := newTestCrawler(t, fetcher, cfg)
	inst := Instance{Name: "a.social", Host: "a.social"}

	if err := c.RunCycle(context.Background(), inst, nil); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	entry, err := backend.GetOptOut("bob@a.social")
	if err != nil {
		t.Fatalf("GetOptOut: %v", err)
	}
	if entry == nil || !entry.OptedOut {
		t.Fatalf("expected author to be cached as opted out, got %+v", entry)
	}
	if _, err := backend.GetPost(store.PostKey{Instance: "a.social", PostID: "1"}); err == nil {
		t.Fatal("expected opted-out author's post to not be ingested")
	}
}

func TestRunCycle_RecordsFailureOnFetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: errBoom}
	c, backend := newTestCrawler(t, fetcher, baseCfg())
	inst := Instance{Name: "a.social", Host: "a.social"}

	if err := c.RunCycle(context.Background(), inst, nil); err == nil {
		t.Fatal("expected error from failing fetcher")
	}

	health, err := backend.GetInstanceHealth("a.social")
	if err != nil {
		t.Fatalf("GetInstanceHealth: %v", err)
	}
	if health.ConsecutiveFailures != 1 {
		t.Errorf("expected 1 consecutive failure, got %d", health.ConsecutiveFailures)
	}
}

func TestRunCycle_SkipsWhenInCooldown(t *testing.T) {
	fetcher := &fakeFetcher{}
	cfg := baseCfg()
	c, backend := newTestCrawler(t, fetcher, cfg)
	inst := Instance{Name: "a.social", Host: "a.social"}

	for i := 0; i < cfg.FailureThreshold; i++ {
		if _, err := backend.RecordFailure("a.social", cfg.FailureThreshold, time.Duration(cfg.CooldownSeconds)*time.Second); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	fetcher.err = errBoom
	if err := c.RunCycle(context.Background(), inst, nil); err != nil {
		t.Fatalf("expected cool-down skip to return nil, got %v", err)
	}
}

func TestIsRetryableError_ClassifiesHTTPStatus(t *testing.T) {
	if !IsRetryableError(&httpStatusError{status: 503}) {
		t.Error("expected 503 to be retryable")
	}
	if IsRetryableError(&httpStatusError{status: 404}) {
		t.Error("expected 404 to be non-retryable")
	}
	if !IsRetryableError(errors.New("network reset")) {
		t.Error("expected non-HTTP errors to default retryable")
	}
}
