package testutil

import (
	"fmt"
	"time"

	"github.com/corgi-proxy/corgi/internal/pipeline"
	"github.com/corgi-proxy/corgi/internal/store"
)

// SamplePost returns a store.Post fixture for the given instance/post ID,
// with engagement counters scaled by n so ordering is predictable across
// a generated batch.
func SamplePost(instance, postID string, n int) *store.Post {
	now := time.Now().UTC()
	return &store.Post{
		Instance:           instance,
		PostID:             postID,
		AuthorHandle:       fmt.Sprintf("author%d@%s", n%5, instance),
		Content:            fmt.Sprintf("test post content number %d", n),
		CreatedAt:          now.Add(-time.Duration(n) * time.Hour).Format(time.RFC3339),
		Language:           "en",
		LanguageConfidence: 0.95,
		Favorites:          int64(n),
		Reblogs:            int64(n / 2),
		Replies:            int64(n / 3),
		MediaJSON:          "{}",
		DiscoverySource:    "timeline",
		DiscoveredAt:       now.Format(time.RFC3339),
	}
}

// SamplePosts generates n posts spread across a single instance.
func SamplePosts(instance string, n int) []*store.Post {
	posts := make([]*store.Post, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, SamplePost(instance, fmt.Sprintf("post-%d", i), i+1))
	}
	return posts
}

// SampleInteraction returns a store.Interaction fixture.
func SampleInteraction(alias, instance, postID, action string) *store.Interaction {
	return &store.Interaction{
		Alias:       alias,
		Instance:    instance,
		PostID:      postID,
		Action:      action,
		ContextJSON: "{}",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// SamplePipelineRequest creates a pipeline.Request for an augmentation-eligible
// timeline call.
func SamplePipelineRequest() *pipeline.Request {
	return &pipeline.Request{
		ID:               "test-request-123",
		ReceivedAt:       time.Now().UTC(),
		Method:           "GET",
		Path:             "/api/v1/timelines/home",
		Query:            map[string][]string{},
		Headers:          map[string]string{},
		Alias:            "alice",
		AliasTier:        pipeline.TierToken,
		UpstreamInstance: "a.social",
		Class:            pipeline.ClassAugmentation,
		Flags:            make(map[string]bool),
		Metadata:         make(map[string]interface{}),
	}
}

// SamplePipelineResponse creates a pipeline.Response for testing.
func SamplePipelineResponse() *pipeline.Response {
	return &pipeline.Response{
		RequestID:    "test-request-123",
		StatusCode:   200,
		Body:         []byte(`[]`),
		Headers:      map[string]string{},
		TotalLatency: 10 * time.Millisecond,
	}
}
