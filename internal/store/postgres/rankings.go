package postgres

import (
	"fmt"

	"github.com/corgi-proxy/corgi/internal/store"
)

// ReplaceRankings atomically replaces the ranking set for an alias.
func (s *Store) ReplaceRankings(alias string, records []*store.RankingRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("postgres: replace rankings begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM rankings WHERE alias = $1", alias); err != nil {
		return fmt.Errorf("postgres: replace rankings delete: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO rankings (alias, instance, post_id, score, reason_category, reason_detail, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return fmt.Errorf("postgres: replace rankings prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.Alias, r.Instance, r.PostID, r.Score, r.ReasonCategory, r.ReasonDetail, r.GeneratedAt); err != nil {
			return fmt.Errorf("postgres: replace rankings insert (%s, %s): %w", r.Instance, r.PostID, err)
		}
	}

	return tx.Commit()
}

// GetRankings returns the most recent ranking records for an alias, sorted
// by score descending, up to limit.
func (s *Store) GetRankings(alias string, limit int) ([]*store.RankingRecord, error) {
	rows, err := s.db.Query(`
		SELECT alias, instance, post_id, score, reason_category, reason_detail, generated_at
		FROM rankings
		WHERE alias = $1
		ORDER BY score DESC
		LIMIT $2`, alias, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: get rankings: %w", err)
	}
	defer rows.Close()

	var results []*store.RankingRecord
	for rows.Next() {
		r := &store.RankingRecord{}
		if err := rows.Scan(&r.Alias, &r.Instance, &r.PostID, &r.Score, &r.ReasonCategory, &r.ReasonDetail, &r.GeneratedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ranking row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get rankings iteration: %w", err)
	}
	return results, nil
}

// RankingGeneratedAt returns the generated_at timestamp of an alias's
// current ranking generation, or "" if none exists.
func (s *Store) RankingGeneratedAt(alias string) (string, error) {
	var generatedAt string
	err := s.db.QueryRow(`
		SELECT generated_at FROM rankings WHERE alias = $1 ORDER BY generated_at DESC LIMIT 1`, alias,
	).Scan(&generatedAt)
	if err != nil {
		return "", nil //nolint:nilerr // no ranking yet is not an error at this layer
	}
	return generatedAt, nil
}

// DeleteRankings invalidates (deletes) the ranking cache for an alias.
func (s *Store) DeleteRankings(alias string) error {
	_, err := s.db.Exec("DELETE FROM rankings WHERE alias = $1", alias)
	if err != nil {
		return fmt.Errorf("postgres: delete rankings: %w", err)
	}
	return nil
}
