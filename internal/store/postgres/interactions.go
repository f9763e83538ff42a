package postgres

import (
	"fmt"

	"github.com/corgi-proxy/corgi/internal/store"
)

// InsertInteraction appends a new interaction record.
func (s *Store) InsertInteraction(in *store.Interaction) error {
	err := s.db.QueryRow(`
		INSERT INTO interactions (alias, instance, post_id, action, timestamp, context_json)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		in.Alias, in.Instance, in.PostID, in.Action, in.Timestamp, in.ContextJSON,
	).Scan(&in.ID)
	if err != nil {
		return fmt.Errorf("postgres: insert interaction: %w", err)
	}
	return nil
}

// InteractionsByAlias returns every interaction recorded for alias,
// ordered by timestamp ascending then insert order.
func (s *Store) InteractionsByAlias(alias string) ([]*store.Interaction, error) {
	rows, err := s.db.Query(`
		SELECT id, alias, instance, post_id, action, timestamp, context_json
		FROM interactions
		WHERE alias = $1
		ORDER BY timestamp ASC, id ASC`, alias,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: interactions by alias: %w", err)
	}
	defer rows.Close()
	return scanInteractions(rows)
}

// InteractionsByPost returns every interaction for a given post, across
// all aliases, ordered by timestamp ascending.
func (s *Store) InteractionsByPost(key store.PostKey) ([]*store.Interaction, error) {
	rows, err := s.db.Query(`
		SELECT id, alias, instance, post_id, action, timestamp, context_json
		FROM interactions
		WHERE instance = $1 AND post_id = $2
		ORDER BY timestamp ASC, id ASC`, key.Instance, key.PostID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: interactions by post: %w", err)
	}
	defer rows.Close()
	return scanInteractions(rows)
}

// LastInteractionInFamily returns the most recent interaction for
// (alias, post_key) whose action is one of familyActions, or nil if none
// exists.
func (s *Store) LastInteractionInFamily(alias string, key store.PostKey, familyActions []string) (*store.Interaction, error) {
	if len(familyActions) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]interface{}, 0, len(familyActions)+3)
	args = append(args, alias, key.Instance, key.PostID)
	for i, a := range familyActions {
		if i > 0 {
			placeholders += ","
		}
		args = append(args, a)
		placeholders += fmt.Sprintf("$%d", len(args))
	}

	row := s.db.QueryRow(fmt.Sprintf(`
		SELECT id, alias, instance, post_id, action, timestamp, context_json
		FROM interactions
		WHERE alias = $1 AND instance = $2 AND post_id = $3 AND action IN (%s)
		ORDER BY timestamp DESC, id DESC LIMIT 1`, placeholders), args...,
	)

	in := &store.Interaction{}
	err := row.Scan(&in.ID, &in.Alias, &in.Instance, &in.PostID, &in.Action, &in.Timestamp, &in.ContextJSON)
	if err != nil {
		return nil, nil //nolint:nilerr // no matching record is not an error at this layer
	}
	return in, nil
}

func scanInteractions(rows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}) ([]*store.Interaction, error) {
	var results []*store.Interaction
	for rows.Next() {
		in := &store.Interaction{}
		if err := rows.Scan(&in.ID, &in.Alias, &in.Instance, &in.PostID, &in.Action, &in.Timestamp, &in.ContextJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan interaction row: %w", err)
		}
		results = append(results, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: interactions iteration: %w", err)
	}
	return results, nil
}
