package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// UsageReading is a single energy-consumption reading published by a device.
type UsageReading struct {
	DeviceID       int64     `json:"deviceId"`
	EnergyConsumed float64   `json:"energyConsumed"`
	Timestamp      time.Time `json:"timestamp"`
}

// usageReadingWire mirrors UsageReading but defers timestamp decoding,
// since producers send either RFC3339 strings or epoch numbers.
type usageReadingWire struct {
	DeviceID       int64           `json:"deviceId"`
	EnergyConsumed float64         `json:"energyConsumed"`
	Timestamp      json.RawMessage `json:"timestamp"`
}

// UnmarshalJSON decodes a reading, accepting RFC3339 and epoch timestamps.
func (r *UsageReading) UnmarshalJSON(data []byte) error {
	var wire usageReadingWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	ts, err := ParseTimestamp(wire.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid reading timestamp: %w", err)
	}

	r.DeviceID = wire.DeviceID
	r.EnergyConsumed = wire.EnergyConsumed
	r.Timestamp = ts
	return nil
}

// MarshalJSON encodes the timestamp as RFC3339 UTC.
func (r UsageReading) MarshalJSON() ([]byte, error) {
	type alias struct {
		DeviceID       int64   `json:"deviceId"`
		EnergyConsumed float64 `json:"energyConsumed"`
		Timestamp      string  `json:"timestamp"`
	}
	return json.Marshal(alias{
		DeviceID:       r.DeviceID,
		EnergyConsumed: r.EnergyConsumed,
		Timestamp:      r.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// ParseTimestamp parses a raw JSON timestamp value. Quoted values are
// parsed as RFC3339; numeric values as epoch seconds, or epoch
// milliseconds when the magnitude makes seconds implausible.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", s, err)
		}
		return t.UTC(), nil
	}

	epoch, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse epoch timestamp '%s': %w", raw, err)
	}
	// Anything past the year 33658 in seconds is a millisecond epoch.
	if epoch > 1e12 {
		epoch = epoch / 1000
	}
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), nil
}

// HourStart truncates an instant to the start of its UTC hour bucket.
func HourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
