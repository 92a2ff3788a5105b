package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/logging"
	"github.com/voltmon/energy-usage-worker/internal/model"
	"github.com/voltmon/energy-usage-worker/internal/registry"
	"go.uber.org/zap"
)

// DeviceResolver maps a device to its owning user.
type DeviceResolver interface {
	ResolveOwner(ctx context.Context, deviceID int64) (int64, error)
}

// SeriesWriter appends raw readings to the time-series store.
type SeriesWriter interface {
	WriteReading(ctx context.Context, reading model.UsageReading) error
}

// Checkpointer persists bucket deltas so aggregates survive restarts.
type Checkpointer interface {
	UpsertBucketDelta(ctx context.Context, userID int64, hourStart time.Time, energyConsumed float64) error
}

// BucketLoader loads checkpointed buckets for recovery.
type BucketLoader interface {
	LoadHourBuckets(ctx context.Context, hourStart time.Time) ([]model.UserHourBucket, error)
}

// Engine consumes usage readings: it resolves ownership, writes the
// raw reading to the time-series store, and accumulates the per-user
// hour bucket.
type Engine struct {
	devices     DeviceResolver
	series      SeriesWriter
	checkpoints Checkpointer
	store       *BucketStore
	logger      *zap.Logger
}

// NewEngine creates an aggregation engine over the given collaborators.
func NewEngine(
	devices DeviceResolver,
	series SeriesWriter,
	checkpoints Checkpointer,
	store *BucketStore,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		devices:     devices,
		series:      series,
		checkpoints: checkpoints,
		store:       store,
		logger:      logger,
	}
}

// Ingest processes one reading. An unknown device returns
// registry.ErrUnknownDevice and leaves no trace in the store or the
// aggregates; the caller logs it and still advances the offset. A
// failed time-series write is logged and dropped rather than blocking
// aggregation. A failed bucket checkpoint is returned as retryable so
// the offset is not advanced past an unrecorded reading.
func (e *Engine) Ingest(ctx context.Context, reading model.UsageReading) error {
	userID, err := e.devices.ResolveOwner(ctx, reading.DeviceID)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownDevice) {
			return err
		}
		return fmt.Errorf("failed to resolve device owner: %w", err)
	}

	if err := e.series.WriteReading(ctx, reading); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.WithDevice(e.logger, reading.DeviceID).Error("dropping time-series write after exhausted retries",
			zap.Error(err),
			zap.Float64("energy_consumed", reading.EnergyConsumed),
		)
	}

	hourStart := model.HourStart(reading.Timestamp)

	// Checkpoint before the in-memory accumulate: a failed checkpoint
	// leaves the reading fully unprocessed for redelivery.
	if err := e.checkpoints.UpsertBucketDelta(ctx, userID, hourStart, reading.EnergyConsumed); err != nil {
		return fmt.Errorf("failed to checkpoint bucket delta: %w", err)
	}

	bucket := e.store.Accumulate(userID, hourStart, reading.EnergyConsumed)

	e.logger.Debug("reading aggregated",
		zap.Int64("user_id", userID),
		zap.Int64("device_id", reading.DeviceID),
		zap.Time("hour_start", hourStart),
		zap.Float64("consumed_total", bucket.ConsumedTotal),
		zap.Int64("reading_count", bucket.ReadingCount),
	)

	return nil
}

// Recover rebuilds the in-memory aggregates for the current hour from
// the checkpointed buckets. Called once on startup, before consuming.
func (e *Engine) Recover(ctx context.Context, loader BucketLoader, now time.Time) error {
	hourStart := model.HourStart(now)

	buckets, err := loader.LoadHourBuckets(ctx, hourStart)
	if err != nil {
		return fmt.Errorf("failed to recover hour buckets: %w", err)
	}

	e.store.Prime(buckets)

	if len(buckets) > 0 {
		e.logger.Info("recovered hour buckets",
			zap.Int("bucket_count", len(buckets)),
			zap.Time("hour_start", hourStart),
		)
	}

	return nil
}
