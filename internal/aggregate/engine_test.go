package aggregate_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/aggregate"
	"github.com/voltmon/energy-usage-worker/internal/model"
	"github.com/voltmon/energy-usage-worker/internal/registry"
	"go.uber.org/zap"
)

type fakeResolver struct {
	owners map[int64]int64
}

func (f *fakeResolver) ResolveOwner(_ context.Context, deviceID int64) (int64, error) {
	userID, ok := f.owners[deviceID]
	if !ok {
		return 0, fmt.Errorf("device %d: %w", deviceID, registry.ErrUnknownDevice)
	}
	return userID, nil
}

type fakeSeries struct {
	err    error
	writes int
}

func (f *fakeSeries) WriteReading(context.Context, model.UsageReading) error {
	f.writes++
	return f.err
}

type fakeCheckpoints struct {
	err   error
	calls int
}

func (f *fakeCheckpoints) UpsertBucketDelta(context.Context, int64, time.Time, float64) error {
	f.calls++
	return f.err
}

type fakeLoader struct {
	buckets []model.UserHourBucket
	err     error
}

func (f *fakeLoader) LoadHourBuckets(context.Context, time.Time) ([]model.UserHourBucket, error) {
	return f.buckets, f.err
}

func newTestEngine(resolver *fakeResolver, series *fakeSeries, checkpoints *fakeCheckpoints) (*aggregate.Engine, *aggregate.BucketStore) {
	store := aggregate.NewBucketStore()
	engine := aggregate.NewEngine(resolver, series, checkpoints, store, zap.NewNop())
	return engine, store
}

func usageAt(store *aggregate.BucketStore, userID int64, ts time.Time) float64 {
	return store.SnapshotHour(model.HourStart(ts))[userID].ConsumedTotal
}

func TestIngest_AggregatesResolvedReading(t *testing.T) {
	resolver := &fakeResolver{owners: map[int64]int64{42: 1}}
	series := &fakeSeries{}
	checkpoints := &fakeCheckpoints{}
	engine, store := newTestEngine(resolver, series, checkpoints)

	ts := time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)
	reading := model.UsageReading{DeviceID: 42, EnergyConsumed: 3.5, Timestamp: ts}

	if err := engine.Ingest(context.Background(), reading); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if series.writes != 1 {
		t.Errorf("Expected 1 time-series write, got %d", series.writes)
	}
	if checkpoints.calls != 1 {
		t.Errorf("Expected 1 bucket checkpoint, got %d", checkpoints.calls)
	}
	if got := usageAt(store, 1, ts); got != 3.5 {
		t.Errorf("Expected bucket total 3.5, got %f", got)
	}
}

func TestIngest_UnknownDeviceLeavesNoTrace(t *testing.T) {
	resolver := &fakeResolver{owners: map[int64]int64{}}
	series := &fakeSeries{}
	checkpoints := &fakeCheckpoints{}
	engine, store := newTestEngine(resolver, series, checkpoints)

	ts := time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)
	reading := model.UsageReading{DeviceID: 99, EnergyConsumed: 3.5, Timestamp: ts}

	err := engine.Ingest(context.Background(), reading)
	if !errors.Is(err, registry.ErrUnknownDevice) {
		t.Fatalf("Expected ErrUnknownDevice, got %v", err)
	}

	if series.writes != 0 {
		t.Error("Unknown device reading must not reach the time-series store")
	}
	if checkpoints.calls != 0 {
		t.Error("Unknown device reading must not be checkpointed")
	}
	if len(store.SnapshotHour(model.HourStart(ts))) != 0 {
		t.Error("Unknown device reading must not be aggregated")
	}
}

func TestIngest_ValidReadingAfterUnknownDevice(t *testing.T) {
	resolver := &fakeResolver{owners: map[int64]int64{42: 1}}
	engine, store := newTestEngine(resolver, &fakeSeries{}, &fakeCheckpoints{})

	ts := time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)

	_ = engine.Ingest(context.Background(), model.UsageReading{DeviceID: 99, EnergyConsumed: 5.0, Timestamp: ts})
	if err := engine.Ingest(context.Background(), model.UsageReading{DeviceID: 42, EnergyConsumed: 2.0, Timestamp: ts}); err != nil {
		t.Fatalf("Valid reading after poison pill failed: %v", err)
	}

	if got := usageAt(store, 1, ts); got != 2.0 {
		t.Errorf("Expected bucket total 2.0, got %f", got)
	}
}

func TestIngest_SeriesWriteFailureDoesNotBlockAggregation(t *testing.T) {
	resolver := &fakeResolver{owners: map[int64]int64{42: 1}}
	series := &fakeSeries{err: errors.New("influx down")}
	engine, store := newTestEngine(resolver, series, &fakeCheckpoints{})

	ts := time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)
	reading := model.UsageReading{DeviceID: 42, EnergyConsumed: 3.5, Timestamp: ts}

	if err := engine.Ingest(context.Background(), reading); err != nil {
		t.Fatalf("Ingest should tolerate time-series failures, got: %v", err)
	}

	if got := usageAt(store, 1, ts); got != 3.5 {
		t.Errorf("Expected bucket total 3.5 despite store failure, got %f", got)
	}
}

func TestIngest_CheckpointFailureIsRetryable(t *testing.T) {
	resolver := &fakeResolver{owners: map[int64]int64{42: 1}}
	checkpoints := &fakeCheckpoints{err: errors.New("db down")}
	engine, store := newTestEngine(resolver, &fakeSeries{}, checkpoints)

	ts := time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)
	reading := model.UsageReading{DeviceID: 42, EnergyConsumed: 3.5, Timestamp: ts}

	if err := engine.Ingest(context.Background(), reading); err == nil {
		t.Fatal("Expected error when checkpoint fails")
	}

	// The reading must stay fully unprocessed so redelivery cannot double count.
	if got := usageAt(store, 1, ts); got != 0 {
		t.Errorf("Expected no in-memory accumulation after checkpoint failure, got %f", got)
	}
}

func TestIngest_LateReadingLandsInHistoricalBucket(t *testing.T) {
	resolver := &fakeResolver{owners: map[int64]int64{42: 1}}
	engine, store := newTestEngine(resolver, &fakeSeries{}, &fakeCheckpoints{})

	late := time.Date(2025, 6, 1, 8, 59, 0, 0, time.UTC)
	if err := engine.Ingest(context.Background(), model.UsageReading{DeviceID: 42, EnergyConsumed: 4.0, Timestamp: late}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if got := usageAt(store, 1, late); got != 4.0 {
		t.Errorf("Expected late reading in its own hour bucket, got %f", got)
	}
	current := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if got := usageAt(store, 1, current); got != 0 {
		t.Errorf("Late reading must not leak into the current bucket, got %f", got)
	}
}

func TestRecover_PrimesStoreFromCheckpoints(t *testing.T) {
	resolver := &fakeResolver{owners: map[int64]int64{}}
	engine, store := newTestEngine(resolver, &fakeSeries{}, &fakeCheckpoints{})

	now := time.Date(2025, 6, 1, 10, 20, 0, 0, time.UTC)
	loader := &fakeLoader{buckets: []model.UserHourBucket{
		{UserID: 1, HourStart: model.HourStart(now), ConsumedTotal: 8.5, ReadingCount: 3},
	}}

	if err := engine.Recover(context.Background(), loader, now); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	if got := usageAt(store, 1, now); got != 8.5 {
		t.Errorf("Expected recovered total 8.5, got %f", got)
	}
}

func TestRecover_PropagatesLoaderFailure(t *testing.T) {
	resolver := &fakeResolver{owners: map[int64]int64{}}
	engine, _ := newTestEngine(resolver, &fakeSeries{}, &fakeCheckpoints{})

	loader := &fakeLoader{err: errors.New("db down")}
	if err := engine.Recover(context.Background(), loader, time.Now()); err == nil {
		t.Error("Expected error when recovery load fails")
	}
}
