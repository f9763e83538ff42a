package store

import (
	"fmt"
)

// RankingRecord is one scored candidate from a ranking pipeline run.
type RankingRecord struct {
	Alias          string
	Instance       string
	PostID         string
	Score          float64
	ReasonCategory string
	ReasonDetail   string
	GeneratedAt    string
}

// ReplaceRankings atomically replaces the ranking set for an alias:
// deletes all prior ranking rows for the alias, then inserts records,
// all sharing the same generated_at. This upholds the invariant that one
// pipeline run's records share generated_at and contain no duplicate
// post keys.
func (s *Store) ReplaceRankings(alias string, records []*RankingRecord) error {
	tx, err := s.writer.Begin()
	if err != nil {
		return fmt.Errorf("store: replace rankings begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM rankings WHERE alias = ?", alias); err != nil {
		return fmt.Errorf("store: replace rankings delete: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO rankings (alias, instance, post_id, score, reason_category, reason_detail, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: replace rankings prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.Alias, r.Instance, r.PostID, r.Score, r.ReasonCategory, r.ReasonDetail, r.GeneratedAt); err != nil {
			return fmt.Errorf("store: replace rankings insert (%s, %s): %w", r.Instance, r.PostID, err)
		}
	}

	return tx.Commit()
}

// GetRankings returns the most recent ranking records for an alias, sorted
// by score descending, up to limit.
func (s *Store) GetRankings(alias string, limit int) ([]*RankingRecord, error) {
	rows, err := s.reader.Query(`
		SELECT alias, instance, post_id, score, reason_category, reason_detail, generated_at
		FROM rankings
		WHERE alias = ?
		ORDER BY score DESC
		LIMIT ?`, alias, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get rankings: %w", err)
	}
	defer rows.Close()

	var results []*RankingRecord
	for rows.Next() {
		r := &RankingRecord{}
		if err := rows.Scan(&r.Alias, &r.Instance, &r.PostID, &r.Score, &r.ReasonCategory, &r.ReasonDetail, &r.GeneratedAt); err != nil {
			return nil, fmt.Errorf("store: scan ranking row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get rankings iteration: %w", err)
	}
	return results, nil
}

// RankingGeneratedAt returns the generated_at timestamp of an alias's
// current ranking generation, or "" if none exists. Used to check
// staleness before a refresh.
func (s *Store) RankingGeneratedAt(alias string) (string, error) {
	var generatedAt string
	err := s.reader.QueryRow(`
		SELECT generated_at FROM rankings WHERE alias = ? ORDER BY generated_at DESC LIMIT 1`, alias,
	).Scan(&generatedAt)
	if err != nil {
		return "", nil //nolint:nilerr // no ranking yet is not an error at this layer
	}
	return generatedAt, nil
}

// DeleteRankings invalidates (deletes) the ranking cache for an alias.
func (s *Store) DeleteRankings(alias string) error {
	_, err := s.writer.Exec("DELETE FROM rankings WHERE alias = ?", alias)
	if err != nil {
		return fmt.Errorf("store: delete rankings: %w", err)
	}
	return nil
}
