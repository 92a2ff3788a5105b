package alert

import (
	"context"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/logging"
	"github.com/voltmon/energy-usage-worker/internal/model"
	"go.uber.org/zap"
)

// ProfileSource fetches user alerting profiles.
type ProfileSource interface {
	GetUser(ctx context.Context, userID int64) (*model.UserProfile, error)
}

// BucketView is the monitor's read-only view of the live aggregates.
type BucketView interface {
	SnapshotHour(hourStart time.Time) map[int64]model.UserHourBucket
	EvictBefore(cutoff time.Time) int
}

// CheckpointPruner trims old bucket checkpoints alongside eviction.
type CheckpointPruner interface {
	PruneBuckets(ctx context.Context, cutoff time.Time) (int64, error)
}

// Monitor runs the periodic threshold sweep. It is the single writer
// of alert-state transitions; ingestion never touches the gate.
type Monitor struct {
	profiles   ProfileSource
	buckets    BucketView
	dedup      *Deduplicator
	dispatcher *Dispatcher
	pruner     CheckpointPruner
	interval   time.Duration
	retention  time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// MonitorConfig holds monitor wiring and schedule settings.
type MonitorConfig struct {
	Profiles       ProfileSource
	Buckets        BucketView
	Deduplicator   *Deduplicator
	Dispatcher     *Dispatcher
	Pruner         CheckpointPruner
	Interval       time.Duration
	RetentionHours int
	Logger         *zap.Logger
	// Now overrides the sweep clock; nil means time.Now.
	Now func() time.Time
}

// NewMonitor creates a threshold monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		profiles:   cfg.Profiles,
		buckets:    cfg.Buckets,
		dedup:      cfg.Deduplicator,
		dispatcher: cfg.Dispatcher,
		pruner:     cfg.Pruner,
		interval:   cfg.Interval,
		retention:  time.Duration(cfg.RetentionHours) * time.Hour,
		logger:     cfg.Logger,
		now:        now,
	}
}

// Run sweeps on a fixed cadence until the context is cancelled. A sweep
// in progress always completes; cancellation only stops the schedule.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("threshold monitor started", zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("threshold monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep evaluates every user with a live bucket this hour, plus every
// user whose gate is still active from an earlier cycle. Per-user
// failures skip that user for this cycle only.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.now()
	hourStart := model.HourStart(now)

	snapshot := m.buckets.SnapshotHour(hourStart)

	// Users with an active gate but no bucket this hour read as zero
	// usage, which is the natural reset at the hour boundary.
	candidates := make(map[int64]struct{}, len(snapshot))
	for userID := range snapshot {
		candidates[userID] = struct{}{}
	}
	if active, err := m.dedup.ActiveUsers(ctx); err != nil {
		m.logger.Error("failed to list active alert states, reset pass degraded this cycle", zap.Error(err))
	} else {
		for _, userID := range active {
			candidates[userID] = struct{}{}
		}
	}

	alerts, resets := 0, 0
	for userID := range candidates {
		emitted, reset := m.evaluateUser(ctx, userID, snapshot[userID].ConsumedTotal, hourStart, now)
		if emitted {
			alerts++
		}
		if reset {
			resets++
		}
	}

	m.logger.Debug("sweep complete",
		zap.Int("evaluated", len(candidates)),
		zap.Int("alerts", alerts),
		zap.Int("resets", resets),
	)

	m.evictOld(ctx, hourStart)
}

func (m *Monitor) evaluateUser(ctx context.Context, userID int64, usage float64, hourStart, now time.Time) (emitted, reset bool) {
	logger := logging.WithUser(m.logger, userID)

	profile, err := m.profiles.GetUser(ctx, userID)
	if err != nil {
		// Skip this cycle, retry next. Never a false negative that
		// disables future evaluation.
		logger.Warn("profile lookup failed, skipping user this cycle", zap.Error(err))
		return false, false
	}

	if !profile.Alerting {
		return false, false
	}

	if usage > profile.EnergyAlertingThreshold {
		event, dedupKey, err := m.dedup.OnBreach(ctx, *profile, usage, hourStart, now)
		if err != nil {
			logger.Error("breach transition failed, skipping user this cycle", zap.Error(err))
			return false, false
		}
		if event == nil {
			return false, false
		}
		if err := m.dispatcher.Dispatch(ctx, *event, dedupKey); err != nil {
			logger.Error("alert dispatch failed", zap.Error(err))
			return false, false
		}
		return true, false
	}

	cleared, err := m.dedup.OnClear(ctx, userID)
	if err != nil {
		logger.Error("reset transition failed, skipping user this cycle", zap.Error(err))
		return false, false
	}
	if cleared {
		logger.Info("alert state reset",
			zap.Float64("usage", usage),
			zap.Float64("threshold", profile.EnergyAlertingThreshold),
		)
	}
	return false, cleared
}

func (m *Monitor) evictOld(ctx context.Context, hourStart time.Time) {
	cutoff := hourStart.Add(-m.retention)

	if evicted := m.buckets.EvictBefore(cutoff); evicted > 0 {
		m.logger.Info("evicted stale buckets", zap.Int("count", evicted))
	}

	if m.pruner != nil {
		if _, err := m.pruner.PruneBuckets(ctx, cutoff); err != nil {
			m.logger.Warn("failed to prune bucket checkpoints", zap.Error(err))
		}
	}
}
