package validator_test

import (
	"testing"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/model"
	"github.com/voltmon/energy-usage-worker/internal/validator"
)

const testMaxFutureSkewMinutes = 10

func TestValidateReading_ValidReading(t *testing.T) {
	v := validator.NewValidator(testMaxFutureSkewMinutes)

	receivedAt := time.Date(2025, 6, 1, 10, 32, 0, 0, time.UTC)
	reading := model.UsageReading{
		DeviceID:       42,
		EnergyConsumed: 3.5,
		Timestamp:      receivedAt.Add(-2 * time.Minute),
	}

	if err := v.ValidateReading(reading, receivedAt); err != nil {
		t.Errorf("Expected valid reading, got error: %v", err)
	}
}

func TestValidateReading_NegativeEnergy(t *testing.T) {
	v := validator.NewValidator(testMaxFutureSkewMinutes)

	receivedAt := time.Date(2025, 6, 1, 10, 32, 0, 0, time.UTC)
	reading := model.UsageReading{
		DeviceID:       42,
		EnergyConsumed: -1.5,
		Timestamp:      receivedAt,
	}

	if err := v.ValidateReading(reading, receivedAt); err == nil {
		t.Error("Expected error for negative energy value")
	}
}

func TestValidateReading_MissingDeviceID(t *testing.T) {
	v := validator.NewValidator(testMaxFutureSkewMinutes)

	receivedAt := time.Date(2025, 6, 1, 10, 32, 0, 0, time.UTC)
	reading := model.UsageReading{
		DeviceID:       0,
		EnergyConsumed: 1.0,
		Timestamp:      receivedAt,
	}

	if err := v.ValidateReading(reading, receivedAt); err == nil {
		t.Error("Expected error for missing device id")
	}
}

func TestValidateReading_ZeroTimestamp(t *testing.T) {
	v := validator.NewValidator(testMaxFutureSkewMinutes)

	receivedAt := time.Date(2025, 6, 1, 10, 32, 0, 0, time.UTC)
	reading := model.UsageReading{
		DeviceID:       42,
		EnergyConsumed: 1.0,
	}

	if err := v.ValidateReading(reading, receivedAt); err == nil {
		t.Error("Expected error for zero timestamp")
	}
}

func TestValidateReading_FarFutureTimestamp(t *testing.T) {
	v := validator.NewValidator(testMaxFutureSkewMinutes)

	receivedAt := time.Date(2025, 6, 1, 10, 32, 0, 0, time.UTC)
	reading := model.UsageReading{
		DeviceID:       42,
		EnergyConsumed: 1.0,
		Timestamp:      receivedAt.Add(11 * time.Minute),
	}

	if err := v.ValidateReading(reading, receivedAt); err == nil {
		t.Error("Expected error for timestamp beyond future skew tolerance")
	}
}

func TestValidateReading_LateReadingIsAccepted(t *testing.T) {
	v := validator.NewValidator(testMaxFutureSkewMinutes)

	// Late arrivals are valid: they land in their historical bucket.
	receivedAt := time.Date(2025, 6, 1, 10, 32, 0, 0, time.UTC)
	reading := model.UsageReading{
		DeviceID:       42,
		EnergyConsumed: 1.0,
		Timestamp:      receivedAt.Add(-3 * time.Hour),
	}

	if err := v.ValidateReading(reading, receivedAt); err != nil {
		t.Errorf("Expected late reading to be accepted, got error: %v", err)
	}
}
