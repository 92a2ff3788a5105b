package validator

import (
	"fmt"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/model"
)

// Validator performs structural checks on incoming readings before
// they reach the aggregation engine. A reading that fails here is a
// poison pill: logged and skipped, never retried.
type Validator struct {
	maxFutureSkew time.Duration
}

// NewValidator creates a validator with the given future-skew tolerance.
func NewValidator(maxFutureSkewMinutes int) *Validator {
	return &Validator{
		maxFutureSkew: time.Duration(maxFutureSkewMinutes) * time.Minute,
	}
}

// ValidateReading checks one reading against the receive time.
func (v *Validator) ValidateReading(reading model.UsageReading, receivedAt time.Time) error {
	if reading.DeviceID <= 0 {
		return fmt.Errorf("missing or invalid device id %d", reading.DeviceID)
	}

	if reading.EnergyConsumed < 0 {
		return fmt.Errorf("negative energy value %.4f", reading.EnergyConsumed)
	}

	if reading.Timestamp.IsZero() {
		return fmt.Errorf("zero reading timestamp")
	}

	if reading.Timestamp.After(receivedAt.Add(v.maxFutureSkew)) {
		return fmt.Errorf("reading timestamp %s is more than %s in the future",
			reading.Timestamp.Format(time.RFC3339), v.maxFutureSkew)
	}

	return nil
}
