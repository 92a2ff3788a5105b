package model

import "time"

// UserHourBucket accumulates one user's consumption within one hour window.
// ConsumedTotal only ever grows for the lifetime of the bucket.
type UserHourBucket struct {
	UserID        int64
	HourStart     time.Time
	ConsumedTotal float64
	ReadingCount  int64
}

// UserProfile is the read-only projection of a user from the registry.
type UserProfile struct {
	UserID                  int64
	Email                   string
	Alerting                bool
	EnergyAlertingThreshold float64
}

// AlertState is the durable per-user de-duplication gate.
type AlertState struct {
	UserID             int64
	Active             bool
	HourStart          time.Time
	Generation         int64
	LastTriggeredAt    time.Time
	ThresholdAtTrigger float64
}

// AlertingEvent is published to the alert stream once per breach episode.
type AlertingEvent struct {
	UserID         int64   `json:"userId"`
	Message        string  `json:"message"`
	Threshold      float64 `json:"threshold"`
	EnergyConsumed float64 `json:"energyConsumed"`
	Email          string  `json:"email"`
}
