// Package crawler builds and maintains the cold-start corpus by polling
// upstream instances for public timelines, hashtag timelines, and
// engaged authors' recent posts.
package crawler

import "context"

// RemotePost is one post as returned by an upstream instance, before it
// is enriched with a detected language and persisted as a store.Post.
type RemotePost struct {
	PostID       string
	AuthorHandle string
	Content      string
	CreatedAt    string
	Favorites    int64
	Reblogs      int64
	Replies      int64
	MediaJSON    string
}

// Instance is the subset of instance configuration a Fetcher needs to
// reach an upstream server: its name (used as the store's instance key),
// base host, and an optional credential for authenticated crawl access.
type Instance struct {
	Name  string
	Host  string
	Token string
}

// Fetcher abstracts upstream HTTP access so the crawl loop can be tested
// without a network. HTTPFetcher is the production implementation.
type Fetcher interface {
	// PublicTimeline returns posts newer than sinceID (exclusive) along
	// with the new high-watermark post ID to use on the next call.
	PublicTimeline(ctx context.Context, inst Instance, sinceID string) ([]RemotePost, string, error)
	// HashtagTimeline returns recent posts carrying the given hashtag.
	HashtagTimeline(ctx context.Context, inst Instance, hashtag string) ([]RemotePost, error)
	// AuthorPosts returns an author's recent posts.
	AuthorPosts(ctx context.Context, inst Instance, author string) ([]RemotePost, error)
	// AuthorBio returns an author's profile bio/metadata text, used for
	// opt-out token scanning.
	AuthorBio(ctx context.Context, inst Instance, author string) (string, error)
}
