package store

import (
	"fmt"
)

// Interaction is a single append-only behavioral event.
type Interaction struct {
	ID          int64
	Alias       string
	Instance    string
	PostID      string
	Action      string
	Timestamp   string
	ContextJSON string
}

// InsertInteraction appends a new interaction record. The store enforces
// no ordering itself beyond insertion order; callers (internal/interaction)
// are responsible for producing monotonic timestamps per alias.
func (s *Store) InsertInteraction(in *Interaction) error {
	result, err := s.writer.Exec(`
		INSERT INTO interactions (alias, instance, post_id, action, timestamp, context_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		in.Alias, in.Instance, in.PostID, in.Action, in.Timestamp, in.ContextJSON,
	)
	if err != nil {
		return fmt.Errorf("store: insert interaction: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: insert interaction last insert id: %w", err)
	}
	in.ID = id
	return nil
}

// InteractionsByAlias returns every interaction recorded for alias, ordered
// by timestamp ascending then insert order, for the single-pass
// pre-aggregation step.
func (s *Store) InteractionsByAlias(alias string) ([]*Interaction, error) {
	rows, err := s.reader.Query(`
		SELECT id, alias, instance, post_id, action, timestamp, context_json
		FROM interactions
		WHERE alias = ?
		ORDER BY timestamp ASC, id ASC`, alias,
	)
	if err != nil {
		return nil, fmt.Errorf("store: interactions by alias: %w", err)
	}
	defer rows.Close()
	return scanInteractions(rows)
}

// InteractionsByPost returns every interaction for a given post, across
// all aliases, ordered by timestamp ascending. Effective toggle state is
// computed with LastInteractionInFamily, not with this query.
func (s *Store) InteractionsByPost(key PostKey) ([]*Interaction, error) {
	rows, err := s.reader.Query(`
		SELECT id, alias, instance, post_id, action, timestamp, context_json
		FROM interactions
		WHERE instance = ? AND post_id = ?
		ORDER BY timestamp ASC, id ASC`, key.Instance, key.PostID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: interactions by post: %w", err)
	}
	defer rows.Close()
	return scanInteractions(rows)
}

// LastInteractionInFamily returns the most recent interaction for
// (alias, post_key) whose action is one of familyActions, or nil if none
// exists. This is the effective-toggle-state query.
func (s *Store) LastInteractionInFamily(alias string, key PostKey, familyActions []string) (*Interaction, error) {
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
		placeholders += "?"
		args = append(args, a)
	}

	row := s.reader.QueryRow(`
		SELECT id, alias, instance, post_id, action, timestamp, context_json
		FROM interactions
		WHERE alias = ? AND instance = ? AND post_id = ? AND action IN (`+placeholders+`)
		ORDER BY timestamp DESC, id DESC LIMIT 1`, args...,
	)

	in := &Interaction{}
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
}) ([]*Interaction, error) {
	var results []*Interaction
	for rows.Next() {
		in := &Interaction{}
		if err := rows.Scan(&in.ID, &in.Alias, &in.Instance, &in.PostID, &in.Action, &in.Timestamp, &in.ContextJSON); err != nil {
			return nil, fmt.Errorf("store: scan interaction row: %w", err)
		}
		results = append(results, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: interactions iteration: %w", err)
	}
	return results, nil
}
