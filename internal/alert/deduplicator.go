package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/model"
)

// StateStore is the durable backing for the de-duplication gate.
type StateStore interface {
	Activate(ctx context.Context, userID int64, hourStart time.Time, threshold float64, now time.Time) (generation int64, activated bool, err error)
	Deactivate(ctx context.Context, userID int64) (bool, error)
	ListActiveAlertUsers(ctx context.Context) ([]int64, error)
}

// Deduplicator enforces at most one alert per (user, breach episode).
// The gate state lives in the state store and outlives restarts; this
// type only encodes the transitions.
type Deduplicator struct {
	states StateStore
}

// NewDeduplicator creates a de-duplicator over a durable state store.
func NewDeduplicator(states StateStore) *Deduplicator {
	return &Deduplicator{states: states}
}

// OnBreach handles a breach candidate. If the user's gate was inactive
// it transitions to active and returns the event to emit along with
// its idempotency key; a sustained breach returns nil.
func (d *Deduplicator) OnBreach(ctx context.Context, profile model.UserProfile, usage float64, hourStart, now time.Time) (*model.AlertingEvent, string, error) {
	generation, activated, err := d.states.Activate(ctx, profile.UserID, hourStart, profile.EnergyAlertingThreshold, now)
	if err != nil {
		return nil, "", fmt.Errorf("breach transition for user %d: %w", profile.UserID, err)
	}
	if !activated {
		return nil, "", nil
	}

	event := &model.AlertingEvent{
		UserID: profile.UserID,
		Message: fmt.Sprintf("Your energy usage of %.2f kWh has exceeded your alerting threshold of %.2f kWh",
			usage, profile.EnergyAlertingThreshold),
		Threshold:      profile.EnergyAlertingThreshold,
		EnergyConsumed: usage,
		Email:          profile.Email,
	}

	dedupKey := fmt.Sprintf("alert-%d-%d-%d", profile.UserID, hourStart.Unix(), generation)
	return event, dedupKey, nil
}

// OnClear resets the gate for a user whose usage is back at or below
// threshold. The reset is silent; it only re-arms future alerting.
func (d *Deduplicator) OnClear(ctx context.Context, userID int64) (bool, error) {
	reset, err := d.states.Deactivate(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("reset transition for user %d: %w", userID, err)
	}
	return reset, nil
}

// ActiveUsers lists users whose gate is currently active, so the sweep
// can reach users that no longer have a live bucket this hour.
func (d *Deduplicator) ActiveUsers(ctx context.Context) ([]int64, error) {
	return d.states.ListActiveAlertUsers(ctx)
}
