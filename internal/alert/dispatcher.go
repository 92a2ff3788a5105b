package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/voltmon/energy-usage-worker/internal/model"
	"go.uber.org/zap"
)

// Sink delivers alerting events to the alert stream.
type Sink interface {
	PublishAlert(ctx context.Context, event model.AlertingEvent, dedupKey string) error
}

// DeadLetterStore records alerts whose delivery permanently failed.
type DeadLetterStore interface {
	InsertDeadLetter(ctx context.Context, userID int64, dedupKey string, payload []byte, reason string) (uuid.UUID, error)
}

// Dispatcher hands events to the sink and falls back to the dead-letter
// store when delivery retries are exhausted. A lost alert would be a
// correctness failure of the whole system, so the only terminal
// outcomes are published or dead-lettered.
type Dispatcher struct {
	sink        Sink
	deadLetters DeadLetterStore
	logger      *zap.Logger
}

// NewDispatcher creates a dispatcher over a sink and dead-letter store.
func NewDispatcher(sink Sink, deadLetters DeadLetterStore, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sink:        sink,
		deadLetters: deadLetters,
		logger:      logger,
	}
}

// Dispatch publishes one event, dead-lettering it on persistent failure.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.AlertingEvent, dedupKey string) error {
	publishErr := d.sink.PublishAlert(ctx, event, dedupKey)
	if publishErr == nil {
		d.logger.Info("alert published",
			zap.Int64("user_id", event.UserID),
			zap.Float64("threshold", event.Threshold),
			zap.Float64("energy_consumed", event.EnergyConsumed),
			zap.String("dedup_key", dedupKey),
		)
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter payload: %w", err)
	}

	id, err := d.deadLetters.InsertDeadLetter(ctx, event.UserID, dedupKey, payload, publishErr.Error())
	if err != nil {
		return fmt.Errorf("alert lost: publish failed (%v) and dead-letter insert failed: %w", publishErr, err)
	}

	d.logger.Error("alert dead-lettered after exhausted publish retries",
		zap.Error(publishErr),
		zap.Int64("user_id", event.UserID),
		zap.String("dead_letter_id", id.String()),
		zap.String("dedup_key", dedupKey),
	)

	return nil
}
