// Package inject implements the timeline injector: merging recommendation
// candidates into an upstream page without disturbing upstream ordering
// or cursor semantics.
package inject

import (
	"github.com/corgi-proxy/corgi/internal/coldstart"
	"github.com/corgi-proxy/corgi/internal/store"
)

// UpstreamItem is one post as returned by the upstream instance, opaque to
// the injector beyond its identity and tag set (used by tag_match).
type UpstreamItem struct {
	Key  store.PostKey
	Tags []string
	Raw  []byte
}

// Item is one entry of the merged output page: either an untouched
// upstream post or an injected recommendation, marked as such.
type Item struct {
	Key            store.PostKey
	IsRecommendation bool
	ReasonCategory string
	ReasonDetail   string
	Score          float64
	UpstreamRaw    []byte // nil for injected items
}

// Strategy names a placement strategy; unknown values fall back to Uniform.
type Strategy string

const (
	StrategyUniform  Strategy = "uniform"
	StrategyTop      Strategy = "top"
	StrategyTagMatch Strategy = "tag_match"
)

// Request bundles one injection call's inputs.
type Request struct {
	UpstreamPage   []UpstreamItem
	InjectionSet   []coldstart.Recommendation
	Strategy       Strategy
	MaxInjections  int
	Gap            int
}

// Inject merges the injection set into the upstream page according to
// strategy, guaranteeing order preservation, bounded injection count, and
// de-duplication against keys already present upstream.
func Inject(req Request) []Item {
	upstreamKeys := make(map[store.PostKey]bool, len(req.UpstreamPage))
	for _, u := range req.UpstreamPage {
		upstreamKeys[u.Key] = true
	}

	deduped := make([]coldstart.Recommendation, 0, len(req.InjectionSet))
	for _, rec := range req.InjectionSet {
		if upstreamKeys[rec.Key] {
			continue
		}
		deduped = append(deduped, rec)
	}

	maxInjections := req.MaxInjections
	if maxInjections <= 0 || maxInjections > len(deduped) {
		maxInjections = len(deduped)
	}
	toInject := deduped[:maxInjections]

	strategy := req.Strategy
	switch strategy {
	case StrategyUniform, StrategyTop, StrategyTagMatch:
	default:
		strategy = StrategyUniform
	}

	switch strategy {
	case StrategyTop:
		return injectTop(req.UpstreamPage, toInject)
	case StrategyTagMatch:
		return injectTagMatch(req.UpstreamPage, toInject, req.Gap)
	default:
		return injectUniform(req.UpstreamPage, toInject, req.Gap)
	}
}

func upstreamToItem(u UpstreamItem) Item {
	return Item{Key: u.Key, UpstreamRaw: u.Raw}
}

func recToItem(r coldstart.Recommendation) Item {
	return Item{
		Key: r.Key, IsRecommendation: true,
		ReasonCategory: r.ReasonCategory, ReasonDetail: r.ReasonDetail, Score: r.Score,
	}
}

// injectTop prepends all injected recommendations before the upstream page.
func injectTop(upstream []UpstreamItem, recs []coldstart.Recommendation) []Item {
	out := make([]Item, 0, len(upstream)+len(recs))
	for _, r := range recs {
		out = append(out, recToItem(r))
	}
	for _, u := range upstream {
		out = append(out, upstreamToItem(u))
	}
	return out
}

// injectUniform spaces injected posts evenly from a deterministic offset,
// keeping at least gap upstream posts between any two injected posts placed
// within the page. Recommendations left over once the upstream page runs
// out are appended after it back to back.
func injectUniform(upstream []UpstreamItem, recs []coldstart.Recommendation, gap int) []Item {
	out := make([]Item, 0, len(upstream)+len(recs))
	if len(recs) == 0 {
		for _, u := range upstream {
			out = append(out, upstreamToItem(u))
		}
		return out
	}
	if gap < 1 {
		gap = 1
	}
	step := gap + 1
	offset := step / 2
	recIdx := 0
	for i, u := range upstream {
		out = append(out, upstreamToItem(u))
		if recIdx >= len(recs) {
			continue
		}
		if i == offset || (i > offset && (i-offset)%step == 0) {
			out = append(out, recToItem(recs[recIdx]))
			recIdx++
		}
	}
	for recIdx < len(recs) {
		out = append(out, recToItem(recs[recIdx]))
		recIdx++
	}
	return out
}

// injectTagMatch places each recommendation immediately after the first
// upstream post whose tags include one of recTagsOf(rec). Recommendations with no tag match are
// appended after the upstream page, in their original order.
func injectTagMatch(upstream []UpstreamItem, recs []coldstart.Recommendation, gap int) []Item {
	placements := make(map[int][]coldstart.Recommendation)
	var unmatched []coldstart.Recommendation

	tagIndex := make(map[string]int)
	for i, u := range upstream {
		for _, tag := range u.Tags {
			if _, exists := tagIndex[tag]; !exists {
				tagIndex[tag] = i
			}
		}
	}

	for _, r := range recs {
		placed := false
		for _, tag := range recTagsOf(r) {
			if idx, ok := tagIndex[tag]; ok {
				placements[idx] = append(placements[idx], r)
				placed = true
				break
			}
		}
		if !placed {
			unmatched = append(unmatched, r)
		}
	}

	out := make([]Item, 0, len(upstream)+len(recs))
	for i, u := range upstream {
		out = append(out, upstreamToItem(u))
		for _, r := range placements[i] {
			out = append(out, recToItem(r))
		}
	}

	if len(unmatched) > 0 {
		tail := injectUniform(nil, unmatched, gap)
		out = append(out, tail...)
	}

	return out
}

// recTagsOf returns a recommendation's ReasonDetail as its only tag
// candidate. Recommendations carry no hashtags of their own: the ranking
// and cold-start engines fill ReasonDetail with a language, an author
// handle or an instance, so a tag_match placement happens only when an
// upstream tag equals that value.
func recTagsOf(r coldstart.Recommendation) []string {
	if r.ReasonDetail == "" {
		return nil
	}
	return []string{r.ReasonDetail}
}
