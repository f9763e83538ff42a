package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InstanceHealth tracks per-instance crawl health: consecutive fetch
// failures, the last successful fetch, and any active cool-down.
type InstanceHealth struct {
	Instance            string
	ConsecutiveFailures int
	LastSuccessAt       string
	CooldownUntil       string
}

// GetInstanceHealth returns the health record for instance, or a zero-value
// record (no failures, no cool-down) if none has been recorded yet.
func (s *Store) GetInstanceHealth(instance string) (*InstanceHealth, error) {
	h := &InstanceHealth{Instance: instance}
	var lastSuccess, cooldown sql.NullString
	err := s.reader.QueryRow(`
		SELECT consecutive_failures, last_success_at, cooldown_until
		FROM instance_health WHERE instance = ?`, instance,
	).Scan(&h.ConsecutiveFailures, &lastSuccess, &cooldown)
	if errors.Is(err, sql.ErrNoRows) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get instance health %s: %w", instance, err)
	}
	h.LastSuccessAt = lastSuccess.String
	h.CooldownUntil = cooldown.String
	return h, nil
}

// RecordSuccess resets the failure count and stamps last_success_at, clearing
// any active cool-down.
func (s *Store) RecordSuccess(instance string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.writer.Exec(`
		INSERT INTO instance_health (instance, consecutive_failures, last_success_at, cooldown_until)
		VALUES (?, 0, ?, NULL)
		ON CONFLICT(instance) DO UPDATE SET
			consecutive_failures = 0,
			last_success_at = excluded.last_success_at,
			cooldown_until = NULL`,
		instance, now,
	)
	if err != nil {
		return fmt.Errorf("store: record success %s: %w", instance, err)
	}
	return nil
}

// RecordFailure increments the instance's consecutive failure count and, once
// failureThreshold consecutive failures are reached, sets cooldown_until to
// now+cooldown. It returns the health record after the update so callers can
// decide whether the instance just entered cool-down.
func (s *Store) RecordFailure(instance string, failureThreshold int, cooldown time.Duration) (*InstanceHealth, error) {
	tx, err := s.writer.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: record failure %s: begin: %w", instance, err)
	}
	defer tx.Rollback()

	var failures int
	err = tx.QueryRow(`SELECT consecutive_failures FROM instance_health WHERE instance = ?`, instance).Scan(&failures)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: record failure %s: select: %w", instance, err)
	}
	failures++

	var cooldownUntil sql.NullString
	if failures >= failureThreshold {
		cooldownUntil = sql.NullString{String: time.Now().UTC().Add(cooldown).Format(time.RFC3339), Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO instance_health (instance, consecutive_failures, last_success_at, cooldown_until)
		VALUES (?, ?, NULL, ?)
		ON CONFLICT(instance) DO UPDATE SET
			consecutive_failures = excluded.consecutive_failures,
			cooldown_until = COALESCE(excluded.cooldown_until, instance_health.cooldown_until)`,
		instance, failures, cooldownUntil,
	)
	if err != nil {
		return nil, fmt.Errorf("store: record failure %s: upsert: %w", instance, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: record failure %s: commit: %w", instance, err)
	}

	return s.GetInstanceHealth(instance)
}

// IsInCooldown reports whether instance is currently cooling down.
func (h *InstanceHealth) IsInCooldown() bool {
	if h.CooldownUntil == "" {
		return false
	}
	until, err := time.Parse(time.RFC3339, h.CooldownUntil)
	if err != nil {
		return false
	}
	return time.Now().UTC().Before(until)
}
