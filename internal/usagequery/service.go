package usagequery

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DeviceLister returns the device set owned by a user.
type DeviceLister interface {
	ListUserDevices(ctx context.Context, userID int64) ([]int64, error)
}

// SeriesReader sums consumption for a device set over a trailing window.
type SeriesReader interface {
	UsageForDevices(ctx context.Context, deviceIDs []int64, days int) (float64, error)
}

// Service answers "how much energy did this user consume over the last
// N days" by projecting the time-series store over the user's devices.
// Thin read path; the alerting core never depends on it.
type Service struct {
	devices DeviceLister
	series  SeriesReader
	logger  *zap.Logger
}

// NewService creates a usage query service.
func NewService(devices DeviceLister, series SeriesReader, logger *zap.Logger) *Service {
	return &Service{
		devices: devices,
		series:  series,
		logger:  logger,
	}
}

// UsageForUser returns the user's total consumption in kWh over the
// last N days across all of their devices.
func (s *Service) UsageForUser(ctx context.Context, userID int64, days int) (float64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("days must be positive, got %d", days)
	}

	deviceIDs, err := s.devices.ListUserDevices(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list devices for user %d: %w", userID, err)
	}
	if len(deviceIDs) == 0 {
		return 0, nil
	}

	total, err := s.series.UsageForDevices(ctx, deviceIDs, days)
	if err != nil {
		return 0, fmt.Errorf("failed to query usage for user %d: %w", userID, err)
	}

	s.logger.Debug("usage query served",
		zap.Int64("user_id", userID),
		zap.Int("days", days),
		zap.Int("device_count", len(deviceIDs)),
		zap.Float64("total_kwh", total),
	)

	return total, nil
}
