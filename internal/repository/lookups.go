package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/voltmon/energy-usage-worker/internal/model"
)

// The users and devices tables are read-only projections owned by the
// registry service; the worker only ever selects from them.

// GetUser fetches a user's alerting profile.
func (r *Repository) GetUser(ctx context.Context, userID int64) (*model.UserProfile, error) {
	query := `
		SELECT id, email, alerting, energy_alerting_threshold
		FROM users
		WHERE id = $1
	`

	var profile model.UserProfile
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.Email,
		&profile.Alerting,
		&profile.EnergyAlertingThreshold,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %d: %w", userID, err)
	}

	return &profile, nil
}

// GetDeviceOwner resolves which user owns a device.
func (r *Repository) GetDeviceOwner(ctx context.Context, deviceID int64) (int64, error) {
	var userID int64
	err := r.pool.QueryRow(ctx, `SELECT user_id FROM devices WHERE id = $1`, deviceID).Scan(&userID)
	if err == pgx.ErrNoRows {
		return 0, fmt.Errorf("device %d: %w", deviceID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query device %d: %w", deviceID, err)
	}

	return userID, nil
}

// ListUserDevices returns the ids of every device owned by a user.
func (r *Repository) ListUserDevices(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM devices WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices for user %d: %w", userID, err)
	}
	defer rows.Close()

	var devices []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device id: %w", err)
		}
		devices = append(devices, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return devices, nil
}
