package postgres

import (
	"fmt"
	"time"

	"github.com/corgi-proxy/corgi/internal/store"
)

// positiveActions classifies which interaction actions count toward the
// positive half of the affinity ratio, mirroring the embedded backend.
var positiveActions = map[string]bool{
	"favorite":       true,
	"reblog":         true,
	"reply":          true,
	"bookmark":       true,
	"more_like_this": true,
}

// GetAuthorAffinity retrieves the affinity summary for (alias, author).
// Returns a zero-value summary (not an error) if none exists yet.
func (s *Store) GetAuthorAffinity(alias, author string) (*store.AuthorAffinity, error) {
	a := &store.AuthorAffinity{Alias: alias, AuthorHandle: author}
	err := s.db.QueryRow(`
		SELECT positive_count, total_count, updated_at, dirty
		FROM author_affinity WHERE alias = $1 AND author_handle = $2`, alias, author,
	).Scan(&a.PositiveCount, &a.TotalCount, &a.UpdatedAt, &a.Dirty)
	if err != nil {
		return a, nil //nolint:nilerr // no summary yet: zero affinity, not an error
	}
	return a, nil
}

// ListAuthorAffinity returns every affinity summary for an alias.
func (s *Store) ListAuthorAffinity(alias string) (map[string]*store.AuthorAffinity, error) {
	rows, err := s.db.Query(`
		SELECT author_handle, positive_count, total_count, updated_at, dirty
		FROM author_affinity WHERE alias = $1`, alias,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list author affinity: %w", err)
	}
	defer rows.Close()

	results := make(map[string]*store.AuthorAffinity)
	for rows.Next() {
		a := &store.AuthorAffinity{Alias: alias}
		if err := rows.Scan(&a.AuthorHandle, &a.PositiveCount, &a.TotalCount, &a.UpdatedAt, &a.Dirty); err != nil {
			return nil, fmt.Errorf("postgres: scan author affinity row: %w", err)
		}
		results[a.AuthorHandle] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list author affinity iteration: %w", err)
	}
	return results, nil
}

// MarkAffinityDirty flags an alias's affinity summary as stale without
// recomputing it.
func (s *Store) MarkAffinityDirty(alias, author string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO author_affinity (alias, author_handle, positive_count, total_count, updated_at, dirty)
		VALUES ($1, $2, 0, 0, $3, TRUE)
		ON CONFLICT (alias, author_handle) DO UPDATE SET dirty = TRUE`,
		alias, author, now,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark affinity dirty: %w", err)
	}
	return nil
}

// DirtyAffinityAliases returns the distinct aliases that have at least
// one author_affinity row flagged dirty, for the background recompute
// loop to drain.
func (s *Store) DirtyAffinityAliases() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT alias FROM author_affinity WHERE dirty = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("postgres: dirty affinity aliases: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("postgres: scan dirty affinity alias: %w", err)
		}
		aliases = append(aliases, alias)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: dirty affinity aliases iteration: %w", err)
	}
	return aliases, nil
}

// RecomputeAuthorAffinity rebuilds the full author_affinity table for an
// alias from a single pass over its interaction log.
func (s *Store) RecomputeAuthorAffinity(alias string) error {
	interactions, err := s.InteractionsByAlias(alias)
	if err != nil {
		return fmt.Errorf("postgres: recompute affinity: %w", err)
	}

	counts := make(map[string]*store.AuthorAffinity)
	for _, in := range interactions {
		post, err := s.GetPost(store.PostKey{Instance: in.Instance, PostID: in.PostID})
		if err != nil {
			continue // author unknown; contributes to neither count
		}
		a, ok := counts[post.AuthorHandle]
		if !ok {
			a = &store.AuthorAffinity{Alias: alias, AuthorHandle: post.AuthorHandle}
			counts[post.AuthorHandle] = a
		}
		a.TotalCount++
		if positiveActions[in.Action] {
			a.PositiveCount++
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("postgres: recompute affinity begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM author_affinity WHERE alias = $1", alias); err != nil {
		return fmt.Errorf("postgres: recompute affinity delete: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	stmt, err := tx.Prepare(`
		INSERT INTO author_affinity (alias, author_handle, positive_count, total_count, updated_at, dirty)
		VALUES ($1, $2, $3, $4, $5, FALSE)`)
	if err != nil {
		return fmt.Errorf("postgres: recompute affinity prepare: %w", err)
	}
	defer stmt.Close()

	for _, a := range counts {
		if _, err := stmt.Exec(a.Alias, a.AuthorHandle, a.PositiveCount, a.TotalCount, now); err != nil {
			return fmt.Errorf("postgres: recompute affinity insert: %w", err)
		}
	}

	return tx.Commit()
}
