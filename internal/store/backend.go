package store

import (
	"context"
	"time"
)

// Backend is the full persisted-state surface corgi depends on. The
// embedded *Store (SQLite, this package) and internal/store/postgres's
// networked implementation both satisfy it; callers elsewhere in the
// tree depend on Backend, never on a concrete backend type, so the two
// are interchangeable behind configuration.
type Backend interface {
	Close() error
	Ping() error
	Migrate() error
	Prune(freshnessWindowDays int) (int64, error)

	UpsertPost(p *Post) error
	GetPost(key PostKey) (*Post, error)
	RecentPosts(days int, languages []string, limit int) ([]*Post, error)
	PostsByAuthors(authors []string, days int, limit int) ([]*Post, error)
	DeleteStalePosts(freshnessWindowDays int) (int64, error)

	InsertInteraction(in *Interaction) error
	InteractionsByAlias(alias string) ([]*Interaction, error)
	InteractionsByPost(key PostKey) ([]*Interaction, error)
	LastInteractionInFamily(alias string, key PostKey, familyActions []string) (*Interaction, error)

	ReplaceRankings(alias string, records []*RankingRecord) error
	GetRankings(alias string, limit int) ([]*RankingRecord, error)
	RankingGeneratedAt(alias string) (string, error)
	DeleteRankings(alias string) error

	GetAuthorAffinity(alias, author string) (*AuthorAffinity, error)
	ListAuthorAffinity(alias string) (map[string]*AuthorAffinity, error)
	MarkAffinityDirty(alias, author string) error
	RecomputeAuthorAffinity(alias string) error
	DirtyAffinityAliases() ([]string, error)

	GetOptOut(author string) (*OptOutEntry, error)
	SetOptOut(author string, optedOut bool) error
	DeleteExpiredOptOut(ttlHours int) (int64, error)

	ResolveToken(ctx context.Context, instance, token string) (alias string, ok bool)
	PutTokenMapping(m *TokenMapping) error
	DeleteTokenMapping(instance, token string) error

	GetInstanceHealth(instance string) (*InstanceHealth, error)
	RecordSuccess(instance string) error
	RecordFailure(instance string, failureThreshold int, cooldown time.Duration) (*InstanceHealth, error)

	GetCache(key string) (*CacheRow, error)
	SetCache(c *CacheRow) error
	DeleteExpiredCache() (int64, error)
}

var _ Backend = (*Store)(nil)
