package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/corgi-proxy/corgi/internal/store"
)

// GetInstanceHealth returns the health record for instance, or a zero-value
// record (no failures, no cool-down) if none has been recorded yet.
func (s *Store) GetInstanceHealth(instance string) (*store.InstanceHealth, error) {
	h := &store.InstanceHealth{Instance: instance}
	var lastSuccess, cooldown sql.NullString
	err := s.db.QueryRow(`
		SELECT consecutive_failures, last_success_at, cooldown_until
		FROM instance_health WHERE instance = $1`, instance,
	).Scan(&h.ConsecutiveFailures, &lastSuccess, &cooldown)
	if errors.Is(err, sql.ErrNoRows) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get instance health %s: %w", instance, err)
	}
	h.LastSuccessAt = lastSuccess.String
	h.CooldownUntil = cooldown.String
	return h, nil
}

// RecordSuccess resets the failure count and stamps last_success_at,
// clearing any active cool-down.
func (s *Store) RecordSuccess(instance string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO instance_health (instance, consecutive_failures, last_success_at, cooldown_until)
		VALUES ($1, 0, $2, NULL)
		ON CONFLICT (instance) DO UPDATE SET
			consecutive_failures = 0,
			last_success_at = excluded.last_success_at,
			cooldown_until = NULL`,
		instance, now,
	)
	if err != nil {
		return fmt.Errorf("postgres: record success %s: %w", instance, err)
	}
	return nil
}

// RecordFailure increments the instance's consecutive failure count and,
// once failureThreshold is reached, sets cooldown_until to now+cooldown.
func (s *Store) RecordFailure(instance string, failureThreshold int, cooldown time.Duration) (*store.InstanceHealth, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("postgres: record failure %s: begin: %w", instance, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var failures int
	err = tx.QueryRow(`SELECT consecutive_failures FROM instance_health WHERE instance = $1`, instance).Scan(&failures)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("postgres: record failure %s: select: %w", instance, err)
	}
	failures++

	var cooldownUntil sql.NullString
	if failures >= failureThreshold {
		cooldownUntil = sql.NullString{String: time.Now().UTC().Add(cooldown).Format(time.RFC3339), Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO instance_health (instance, consecutive_failures, last_success_at, cooldown_until)
		VALUES ($1, $2, NULL, $3)
		ON CONFLICT (instance) DO UPDATE SET
			consecutive_failures = excluded.consecutive_failures,
			cooldown_until = COALESCE(excluded.cooldown_until, instance_health.cooldown_until)`,
		instance, failures, cooldownUntil,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: record failure %s: upsert: %w", instance, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: record failure %s: commit: %w", instance, err)
	}

	return s.GetInstanceHealth(instance)
}
