package postgres

import (
	"fmt"
	"time"

	"github.com/corgi-proxy/corgi/internal/store"
)

// UpsertPost inserts a new post or updates engagement counters and
// language on conflict, preserving discovered_at from the first insert.
func (s *Store) UpsertPost(p *store.Post) error {
	_, err := s.db.Exec(`
		INSERT INTO posts (
			instance, post_id, author_handle, content, created_at,
			language, language_confidence, favorites, reblogs, replies,
			media_json, discovery_source, discovered_at, discovery_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (instance, post_id) DO UPDATE SET
			author_handle = excluded.author_handle,
			content = excluded.content,
			language = excluded.language,
			language_confidence = excluded.language_confidence,
			favorites = excluded.favorites,
			reblogs = excluded.reblogs,
			replies = excluded.replies,
			media_json = excluded.media_json`,
		p.Instance, p.PostID, p.AuthorHandle, p.Content, p.CreatedAt,
		p.Language, p.LanguageConfidence, p.Favorites, p.Reblogs, p.Replies,
		p.MediaJSON, p.DiscoverySource, p.DiscoveredAt, p.DiscoveryReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert post (%s, %s): %w", p.Instance, p.PostID, err)
	}
	return nil
}

// GetPost retrieves a single post by key.
func (s *Store) GetPost(key store.PostKey) (*store.Post, error) {
	p := &store.Post{}
	err := s.db.QueryRow(`
		SELECT instance, post_id, author_handle, content, created_at,
		       language, language_confidence, favorites, reblogs, replies,
		       media_json, discovery_source, discovered_at, discovery_reason
		FROM posts WHERE instance = $1 AND post_id = $2`, key.Instance, key.PostID,
	).Scan(
		&p.Instance, &p.PostID, &p.AuthorHandle, &p.Content, &p.CreatedAt,
		&p.Language, &p.LanguageConfidence, &p.Favorites, &p.Reblogs, &p.Replies,
		&p.MediaJSON, &p.DiscoverySource, &p.DiscoveredAt, &p.DiscoveryReason,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: get post (%s, %s): %w", key.Instance, key.PostID, err)
	}
	return p, nil
}

// RecentPosts returns posts discovered within the last `days`, optionally
// filtered by language, excluding any post whose author is opted out.
func (s *Store) RecentPosts(days int, languages []string, limit int) ([]*store.Post, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	query := `
		SELECT p.instance, p.post_id, p.author_handle, p.content, p.created_at,
		       p.language, p.language_confidence, p.favorites, p.reblogs, p.replies,
		       p.media_json, p.discovery_source, p.discovered_at, p.discovery_reason
		FROM posts p
		LEFT JOIN opt_out_cache o ON o.author_handle = p.author_handle
		WHERE p.discovered_at >= $1 AND (o.opted_out IS NULL OR o.opted_out = FALSE)`

	args := []interface{}{cutoff}
	if len(languages) > 0 {
		placeholders := ""
		for i, lang := range languages {
			if i > 0 {
				placeholders += ","
			}
			args = append(args, lang)
			placeholders += fmt.Sprintf("$%d", len(args))
		}
		query += " AND p.language IN (" + placeholders + ")"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY p.discovered_at DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent posts: %w", err)
	}
	defer rows.Close()

	var results []*store.Post
	for rows.Next() {
		p := &store.Post{}
		if err := rows.Scan(
			&p.Instance, &p.PostID, &p.AuthorHandle, &p.Content, &p.CreatedAt,
			&p.Language, &p.LanguageConfidence, &p.Favorites, &p.Reblogs, &p.Replies,
			&p.MediaJSON, &p.DiscoverySource, &p.DiscoveredAt, &p.DiscoveryReason,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan post row: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: recent posts iteration: %w", err)
	}
	return results, nil
}

// PostsByAuthors returns recent posts by any of the given author handles.
// Opted-out authors are excluded via the same bulk opt_out_cache join
// RecentPosts uses, rather than leaving callers to check each author
// individually.
func (s *Store) PostsByAuthors(authors []string, days int, limit int) ([]*store.Post, error) {
	if len(authors) == 0 {
		return nil, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	placeholders := ""
	args := make([]interface{}, 0, len(authors)+2)
	for i, a := range authors {
		if i > 0 {
			placeholders += ","
		}
		args = append(args, a)
		placeholders += fmt.Sprintf("$%d", len(args))
	}
	args = append(args, cutoff)
	cutoffIdx := len(args)
	args = append(args, limit)
	limitIdx := len(args)

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT p.instance, p.post_id, p.author_handle, p.content, p.created_at,
		       p.language, p.language_confidence, p.favorites, p.reblogs, p.replies,
		       p.media_json, p.discovery_source, p.discovered_at, p.discovery_reason
		FROM posts p
		LEFT JOIN opt_out_cache o ON o.author_handle = p.author_handle
		WHERE p.author_handle IN (%s) AND p.discovered_at >= $%d
		  AND (o.opted_out IS NULL OR o.opted_out = FALSE)
		ORDER BY p.discovered_at DESC LIMIT $%d`, placeholders, cutoffIdx, limitIdx), args...,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: posts by authors: %w", err)
	}
	defer rows.Close()

	var results []*store.Post
	for rows.Next() {
		p := &store.Post{}
		if err := rows.Scan(
			&p.Instance, &p.PostID, &p.AuthorHandle, &p.Content, &p.CreatedAt,
			&p.Language, &p.LanguageConfidence, &p.Favorites, &p.Reblogs, &p.Replies,
			&p.MediaJSON, &p.DiscoverySource, &p.DiscoveredAt, &p.DiscoveryReason,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan post row: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: posts by authors iteration: %w", err)
	}
	return results, nil
}

// DeleteStalePosts removes posts discovered before the freshness-window
// cutoff. Returns the number of rows deleted.
func (s *Store) DeleteStalePosts(freshnessWindowDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -freshnessWindowDays).Format(time.RFC3339)
	result, err := s.db.Exec("DELETE FROM posts WHERE discovered_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete stale posts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: delete stale posts rows affected: %w", err)
	}
	return n, nil
}
