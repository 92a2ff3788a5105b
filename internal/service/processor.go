package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/aggregate"
	"github.com/voltmon/energy-usage-worker/internal/kafka"
	"github.com/voltmon/energy-usage-worker/internal/logging"
	"github.com/voltmon/energy-usage-worker/internal/model"
	"github.com/voltmon/energy-usage-worker/internal/registry"
	"github.com/voltmon/energy-usage-worker/internal/validator"
	"go.uber.org/zap"
)

// ProcessorService turns raw stream messages into aggregated readings.
// It decides which failures are poison (skip and advance) and which are
// retryable (redeliver).
type ProcessorService struct {
	engine    *aggregate.Engine
	validator *validator.Validator
	logger    *zap.Logger
}

// NewProcessorService creates a new processor service
func NewProcessorService(engine *aggregate.Engine, validator *validator.Validator, logger *zap.Logger) *ProcessorService {
	return &ProcessorService{
		engine:    engine,
		validator: validator,
		logger:    logger,
	}
}

// ProcessMessage processes one message from the usage topic. Malformed
// payloads, invalid readings and unknown devices are poison: they are
// reported and the offset advances. Anything else bubbles up as
// retryable.
func (s *ProcessorService) ProcessMessage(ctx context.Context, body []byte, receivedAt time.Time) error {
	var reading model.UsageReading
	if err := json.Unmarshal(body, &reading); err != nil {
		return fmt.Errorf("%w: failed to unmarshal reading: %v", kafka.ErrSkipMessage, err)
	}

	if err := s.validator.ValidateReading(reading, receivedAt); err != nil {
		logging.WithDevice(s.logger, reading.DeviceID).Warn("rejecting invalid reading", zap.Error(err))
		return fmt.Errorf("%w: invalid reading: %v", kafka.ErrSkipMessage, err)
	}

	if err := s.engine.Ingest(ctx, reading); err != nil {
		if errors.Is(err, registry.ErrUnknownDevice) {
			logging.WithDevice(s.logger, reading.DeviceID).Warn("rejecting reading for unregistered device")
			return fmt.Errorf("%w: %v", kafka.ErrSkipMessage, err)
		}
		return err
	}

	return nil
}
