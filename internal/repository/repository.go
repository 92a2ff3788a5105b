package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voltmon/energy-usage-worker/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertBucketDelta accumulates a reading into the checkpointed hour bucket.
// The accumulation is monotonic: totals only ever grow.
func (r *Repository) UpsertBucketDelta(ctx context.Context, userID int64, hourStart time.Time, energyConsumed float64) error {
	query := `
		INSERT INTO usage_buckets (user_id, hour_start, consumed_total, reading_count, updated_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (user_id, hour_start) DO UPDATE
		SET consumed_total = usage_buckets.consumed_total + EXCLUDED.consumed_total,
		    reading_count = usage_buckets.reading_count + 1,
		    updated_at = now()
	`

	_, err := r.pool.Exec(ctx, query, userID, hourStart, energyConsumed)
	if err != nil {
		return fmt.Errorf("failed to upsert usage bucket: %w", err)
	}

	return nil
}

// LoadHourBuckets loads all checkpointed buckets for one hour window,
// used to rebuild the in-memory aggregate after a restart.
func (r *Repository) LoadHourBuckets(ctx context.Context, hourStart time.Time) ([]model.UserHourBucket, error) {
	query := `
		SELECT user_id, hour_start, consumed_total, reading_count
		FROM usage_buckets
		WHERE hour_start = $1
	`

	rows, err := r.pool.Query(ctx, query, hourStart)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage buckets: %w", err)
	}
	defer rows.Close()

	var buckets []model.UserHourBucket
	for rows.Next() {
		var b model.UserHourBucket
		if err := rows.Scan(&b.UserID, &b.HourStart, &b.ConsumedTotal, &b.ReadingCount); err != nil {
			return nil, fmt.Errorf("failed to scan usage bucket: %w", err)
		}
		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return buckets, nil
}

// PruneBuckets deletes checkpointed buckets older than the cutoff.
func (r *Repository) PruneBuckets(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM usage_buckets WHERE hour_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage buckets: %w", err)
	}
	return tag.RowsAffected(), nil
}
