package store

import (
	"fmt"
	"time"
)

// PostKey identifies a post by its origin instance and upstream ID.
// Cross-instance canonicalization (if two instances ever describe the
// same federated object) is deliberately not attempted here: the core
// treats (instance, post_id) as opaque and leaves any future unification
// to this adapter layer.
type PostKey struct {
	Instance string
	PostID   string
}

// Post is a corpus record: one federated post discovered by the crawler
// or observed while proxying an upstream response.
type Post struct {
	Instance            string
	PostID               string
	AuthorHandle         string
	Content              string
	CreatedAt            string
	Language             string
	LanguageConfidence   float64
	Favorites            int64
	Reblogs              int64
	Replies              int64
	MediaJSON            string
	DiscoverySource      string
	DiscoveredAt         string
	DiscoveryReason      string
}

// UpsertPost inserts a new post or updates engagement counters and
// language on conflict, preserving discovered_at from the first insert.
func (s *Store) UpsertPost(p *Post) error {
	_, err := s.writer.Exec(`
		INSERT INTO posts (
			instance, post_id, author_handle, content, created_at,
			language, language_confidence, favorites, reblogs, replies,
			media_json, discovery_source, discovered_at, discovery_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance, post_id) DO UPDATE SET
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
		return fmt.Errorf("store: upsert post (%s, %s): %w", p.Instance, p.PostID, err)
	}
	return nil
}

// GetPost retrieves a single post by key. Returns sql.ErrNoRows (wrapped)
// if it does not exist.
func (s *Store) GetPost(key PostKey) (*Post, error) {
	p := &Post{}
	err := s.reader.QueryRow(`
		SELECT instance, post_id, author_handle, content, created_at,
		       language, language_confidence, favorites, reblogs, replies,
		       media_json, discovery_source, discovered_at, discovery_reason
		FROM posts WHERE instance = ? AND post_id = ?`, key.Instance, key.PostID,
	).Scan(
		&p.Instance, &p.PostID, &p.AuthorHandle, &p.Content, &p.CreatedAt,
		&p.Language, &p.LanguageConfidence, &p.Favorites, &p.Reblogs, &p.Replies,
		&p.MediaJSON, &p.DiscoverySource, &p.DiscoveredAt, &p.DiscoveryReason,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get post (%s, %s): %w", key.Instance, key.PostID, err)
	}
	return p, nil
}

// RecentPosts returns posts discovered within the last `days`, optionally
// filtered by language, excluding any post whose author is opted out.
// This backs ranking candidate selection and
// cold-start corpus scans.
func (s *Store) RecentPosts(days int, languages []string, limit int) ([]*Post, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	query := `
		SELECT p.instance, p.post_id, p.author_handle, p.content, p.created_at,
		       p.language, p.language_confidence, p.favorites, p.reblogs, p.replies,
		       p.media_json, p.discovery_source, p.discovered_at, p.discovery_reason
		FROM posts p
		LEFT JOIN opt_out_cache o ON o.author_handle = p.author_handle
		WHERE p.discovered_at >= ? AND (o.opted_out IS NULL OR o.opted_out = 0)`

	args := []interface{}{cutoff}
	if len(languages) > 0 {
		placeholders := ""
		for i, lang := range languages {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, lang)
		}
		query += " AND p.language IN (" + placeholders + ")"
	}
	query += " ORDER BY p.discovered_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.reader.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: recent posts: %w", err)
	}
	defer rows.Close()

	var results []*Post
	for rows.Next() {
		p := &Post{}
		if err := rows.Scan(
			&p.Instance, &p.PostID, &p.AuthorHandle, &p.Content, &p.CreatedAt,
			&p.Language, &p.LanguageConfidence, &p.Favorites, &p.Reblogs, &p.Replies,
			&p.MediaJSON, &p.DiscoverySource, &p.DiscoveredAt, &p.DiscoveryReason,
		); err != nil {
			return nil, fmt.Errorf("store: scan post row: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent posts iteration: %w", err)
	}
	return results, nil
}

// PostsByAuthors returns recent posts by any of the given author handles,
// used for the "authors the alias has engaged positively with" candidate
// source. Opted-out authors are excluded via the same bulk
// opt_out_cache join RecentPosts uses, rather than leaving callers to
// check each author individually.
func (s *Store) PostsByAuthors(authors []string, days int, limit int) ([]*Post, error) {
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
		placeholders += "?"
		args = append(args, a)
	}
	args = append(args, cutoff, limit)

	rows, err := s.reader.Query(`
		SELECT p.instance, p.post_id, p.author_handle, p.content, p.created_at,
		       p.language, p.language_confidence, p.favorites, p.reblogs, p.replies,
		       p.media_json, p.discovery_source, p.discovered_at, p.discovery_reason
		FROM posts p
		LEFT JOIN opt_out_cache o ON o.author_handle = p.author_handle
		WHERE p.author_handle IN (`+placeholders+`) AND p.discovered_at >= ?
		  AND (o.opted_out IS NULL OR o.opted_out = 0)
		ORDER BY p.discovered_at DESC LIMIT ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("store: posts by authors: %w", err)
	}
	defer rows.Close()

	var results []*Post
	for rows.Next() {
		p := &Post{}
		if err := rows.Scan(
			&p.Instance, &p.PostID, &p.AuthorHandle, &p.Content, &p.CreatedAt,
			&p.Language, &p.LanguageConfidence, &p.Favorites, &p.Reblogs, &p.Replies,
			&p.MediaJSON, &p.DiscoverySource, &p.DiscoveredAt, &p.DiscoveryReason,
		); err != nil {
			return nil, fmt.Errorf("store: scan post row: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: posts by authors iteration: %w", err)
	}
	return results, nil
}

// DeleteStalePosts removes posts discovered before the freshness-window
// cutoff. Returns the number of rows deleted.
func (s *Store) DeleteStalePosts(freshnessWindowDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -freshnessWindowDays).Format(time.RFC3339)
	result, err := s.writer.Exec("DELETE FROM posts WHERE discovered_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete stale posts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete stale posts rows affected: %w", err)
	}
	return n, nil
}
