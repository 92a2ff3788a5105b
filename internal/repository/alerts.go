package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrStateCorrupted marks an alert-state row that could not be read back.
// Callers must fail closed on it: no emission, surface to operators.
var ErrStateCorrupted = errors.New("alert state corrupted")

// Activate flips a user's de-duplication gate from inactive to active.
// The conditional update guarantees exactly one transition per breach
// episode even when sweeps race: a gate that is already active matches
// no row and the second caller observes activated == false.
func (r *Repository) Activate(ctx context.Context, userID int64, hourStart time.Time, threshold float64, now time.Time) (int64, bool, error) {
	query := `
		INSERT INTO alert_states (user_id, active, hour_start, generation, last_triggered_at, threshold_at_trigger)
		VALUES ($1, TRUE, $2, 1, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET active = TRUE,
		    hour_start = EXCLUDED.hour_start,
		    generation = alert_states.generation + 1,
		    last_triggered_at = EXCLUDED.last_triggered_at,
		    threshold_at_trigger = EXCLUDED.threshold_at_trigger
		WHERE alert_states.active = FALSE
		RETURNING generation
	`

	var generation int64
	err := r.pool.QueryRow(ctx, query, userID, hourStart, now, threshold).Scan(&generation)
	if err == pgx.ErrNoRows {
		// Gate already active: sustained breach, no transition.
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to activate alert state: %w", err)
	}

	return generation, true, nil
}

// Deactivate resets a user's gate once usage is back at or below
// threshold. Returns whether a reset actually happened.
func (r *Repository) Deactivate(ctx context.Context, userID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE alert_states SET active = FALSE WHERE user_id = $1 AND active`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate alert state: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListActiveAlertUsers returns every user whose gate is currently active.
func (r *Repository) ListActiveAlertUsers(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM alert_states WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active alert states: %w", err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
		}
		users = append(users, userID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return users, nil
}

// InsertDeadLetter persists an alert whose publish retries were exhausted.
// A dead-lettered alert is an operator escalation, never a silent drop.
func (r *Repository) InsertDeadLetter(ctx context.Context, userID int64, dedupKey string, payload []byte, reason string) (uuid.UUID, error) {
	query := `
		INSERT INTO alert_dead_letters (id, user_id, dedup_key, payload, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`

	id := uuid.New()
	_, err := r.pool.Exec(ctx, query, id, userID, dedupKey, payload, reason)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert alert dead letter: %w", err)
	}

	return id, nil
}
