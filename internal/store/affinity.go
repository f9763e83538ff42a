package store

import (
	"fmt"
	"time"
)

// AuthorAffinity is the derived per-alias, per-author summary used by the
// ranking engine's author-affinity sub-score.
type AuthorAffinity struct {
	Alias          string
	AuthorHandle   string
	PositiveCount  int64
	TotalCount     int64
	UpdatedAt      string
	Dirty          bool
}

// positiveActions classifies which interaction actions count toward the
// positive half of the affinity ratio.
var positiveActions = map[string]bool{
	"favorite":      true,
	"reblog":        true,
	"reply":         true,
	"bookmark":      true,
	"more_like_this": true,
}

// negativeActions lists the actions that signal negative affinity.
// RecomputeAuthorAffinity does not consult it: a negative action counts
// toward the total only, the same as any other non-positive action.
var negativeActions = map[string]bool{
	"less_like_this": true,
}

// GetAuthorAffinity retrieves the affinity summary for (alias, author).
// Returns a zero-value summary (not an error) if none exists yet.
func (s *Store) GetAuthorAffinity(alias, author string) (*AuthorAffinity, error) {
	a := &AuthorAffinity{Alias: alias, AuthorHandle: author}
	var dirtyInt int
	err := s.reader.QueryRow(`
		SELECT positive_count, total_count, updated_at, dirty
		FROM author_affinity WHERE alias = ? AND author_handle = ?`, alias, author,
	).Scan(&a.PositiveCount, &a.TotalCount, &a.UpdatedAt, &dirtyInt)
	if err != nil {
		return a, nil //nolint:nilerr // no summary yet: zero affinity, not an error
	}
	a.Dirty = dirtyInt != 0
	return a, nil
}

// ListAuthorAffinity returns every affinity summary for an alias.
func (s *Store) ListAuthorAffinity(alias string) (map[string]*AuthorAffinity, error) {
	rows, err := s.reader.Query(`
		SELECT author_handle, positive_count, total_count, updated_at, dirty
		FROM author_affinity WHERE alias = ?`, alias,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list author affinity: %w", err)
	}
	defer rows.Close()

	results := make(map[string]*AuthorAffinity)
	for rows.Next() {
		a := &AuthorAffinity{Alias: alias}
		var dirtyInt int
		if err := rows.Scan(&a.AuthorHandle, &a.PositiveCount, &a.TotalCount, &a.UpdatedAt, &dirtyInt); err != nil {
			return nil, fmt.Errorf("store: scan author affinity row: %w", err)
		}
		a.Dirty = dirtyInt != 0
		results[a.AuthorHandle] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list author affinity iteration: %w", err)
	}
	return results, nil
}

// MarkAffinityDirty flags an alias's affinity summary as stale without
// recomputing it.
func (s *Store) MarkAffinityDirty(alias, author string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.writer.Exec(`
		INSERT INTO author_affinity (alias, author_handle, positive_count, total_count, updated_at, dirty)
		VALUES (?, ?, 0, 0, ?, 1)
		ON CONFLICT(alias, author_handle) DO UPDATE SET dirty = 1`,
		alias, author, now,
	)
	if err != nil {
		return fmt.Errorf("store: mark affinity dirty: %w", err)
	}
	return nil
}

// DirtyAffinityAliases returns the distinct aliases that have at least
// one author_affinity row flagged dirty, for the background recompute
// loop to drain.
func (s *Store) DirtyAffinityAliases() ([]string, error) {
	rows, err := s.reader.Query(`SELECT DISTINCT alias FROM author_affinity WHERE dirty = 1`)
	if err != nil {
		return nil, fmt.Errorf("store: dirty affinity aliases: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("store: scan dirty affinity alias: %w", err)
		}
		aliases = append(aliases, alias)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: dirty affinity aliases iteration: %w", err)
	}
	return aliases, nil
}

// RecomputeAuthorAffinity rebuilds the full author_affinity table for an
// alias from a single pass over its interaction log. Post lookups
// resolve each interaction's author.
func (s *Store) RecomputeAuthorAffinity(alias string) error {
	interactions, err := s.InteractionsByAlias(alias)
	if err != nil {
		return fmt.Errorf("store: recompute affinity: %w", err)
	}

	counts := make(map[string]*AuthorAffinity)
	for _, in := range interactions {
		post, err := s.GetPost(PostKey{Instance: in.Instance, PostID: in.PostID})
		if err != nil {
			continue // author unknown; contributes to neither count
		}
		a, ok := counts[post.AuthorHandle]
		if !ok {
			a = &AuthorAffinity{Alias: alias, AuthorHandle: post.AuthorHandle}
			counts[post.AuthorHandle] = a
		}
		a.TotalCount++
		if positiveActions[in.Action] {
			a.PositiveCount++
		}
	}

	tx, err := s.writer.Begin()
	if err != nil {
		return fmt.Errorf("store: recompute affinity begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM author_affinity WHERE alias = ?", alias); err != nil {
		return fmt.Errorf("store: recompute affinity delete: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	stmt, err := tx.Prepare(`
		INSERT INTO author_affinity (alias, author_handle, positive_count, total_count, updated_at, dirty)
		VALUES (?, ?, ?, ?, ?, 0)`)
	if err != nil {
		return fmt.Errorf("store: recompute affinity prepare: %w", err)
	}
	defer stmt.Close()

	for _, a := range counts {
		if _, err := stmt.Exec(a.Alias, a.AuthorHandle, a.PositiveCount, a.TotalCount, now); err != nil {
			return fmt.Errorf("store: recompute affinity insert: %w", err)
		}
	}

	return tx.Commit()
}
