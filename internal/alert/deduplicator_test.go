package alert_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/alert"
	"github.com/voltmon/energy-usage-worker/internal/model"
)

// memStates is an in-memory StateStore with the same conditional
// transition semantics as the SQL-backed store.
type memStates struct {
	mu     sync.Mutex
	states map[int64]*model.AlertState
	err    error
}

func newMemStates() *memStates {
	return &memStates{states: make(map[int64]*model.AlertState)}
}

func (m *memStates) Activate(_ context.Context, userID int64, hourStart time.Time, threshold float64, now time.Time) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return 0, false, m.err
	}

	st, ok := m.states[userID]
	if !ok {
		st = &model.AlertState{UserID: userID}
		m.states[userID] = st
	}
	if st.Active {
		return 0, false, nil
	}

	st.Active = true
	st.Generation++
	st.HourStart = hourStart
	st.LastTriggeredAt = now
	st.ThresholdAtTrigger = threshold
	return st.Generation, true, nil
}

func (m *memStates) Deactivate(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return false, m.err
	}

	st, ok := m.states[userID]
	if !ok || !st.Active {
		return false, nil
	}
	st.Active = false
	return true, nil
}

func (m *memStates) ListActiveAlertUsers(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	var users []int64
	for userID, st := range m.states {
		if st.Active {
			users = append(users, userID)
		}
	}
	return users, nil
}

var testProfile = model.UserProfile{
	UserID:                  1,
	Email:                   "user@example.com",
	Alerting:                true,
	EnergyAlertingThreshold: 10.0,
}

var dedupHour = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestOnBreach_FirstBreachEmitsEvent(t *testing.T) {
	dedup := alert.NewDeduplicator(newMemStates())

	event, dedupKey, err := dedup.OnBreach(context.Background(), testProfile, 11.0, dedupHour, dedupHour.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("OnBreach failed: %v", err)
	}

	if event == nil {
		t.Fatal("Expected an event on first breach")
	}
	if event.UserID != 1 || event.Threshold != 10.0 || event.EnergyConsumed != 11.0 {
		t.Errorf("Unexpected event: %+v", event)
	}
	if event.Email != "user@example.com" {
		t.Errorf("Expected email in event, got '%s'", event.Email)
	}
	if dedupKey == "" {
		t.Error("Expected a dedup key for the transition")
	}
}

func TestOnBreach_SustainedBreachIsSilent(t *testing.T) {
	dedup := alert.NewDeduplicator(newMemStates())

	first, _, _ := dedup.OnBreach(context.Background(), testProfile, 11.0, dedupHour, dedupHour)
	if first == nil {
		t.Fatal("Expected an event on first breach")
	}

	for i := 0; i < 5; i++ {
		event, _, err := dedup.OnBreach(context.Background(), testProfile, 12.0+float64(i), dedupHour, dedupHour)
		if err != nil {
			t.Fatalf("OnBreach failed: %v", err)
		}
		if event != nil {
			t.Fatalf("Sustained breach cycle %d must not emit, got %+v", i, event)
		}
	}
}

func TestOnClear_EnablesReAlert(t *testing.T) {
	dedup := alert.NewDeduplicator(newMemStates())

	first, firstKey, _ := dedup.OnBreach(context.Background(), testProfile, 11.0, dedupHour, dedupHour)
	if first == nil {
		t.Fatal("Expected an event on first breach")
	}

	cleared, err := dedup.OnClear(context.Background(), testProfile.UserID)
	if err != nil {
		t.Fatalf("OnClear failed: %v", err)
	}
	if !cleared {
		t.Error("Expected the gate to reset")
	}

	nextHour := dedupHour.Add(time.Hour)
	second, secondKey, _ := dedup.OnBreach(context.Background(), testProfile, 14.0, nextHour, nextHour)
	if second == nil {
		t.Fatal("Expected a second event after reset")
	}
	if secondKey == firstKey {
		t.Errorf("Expected distinct dedup keys across episodes, both were '%s'", firstKey)
	}
}

func TestOnClear_InactiveGateIsNoOp(t *testing.T) {
	dedup := alert.NewDeduplicator(newMemStates())

	cleared, err := dedup.OnClear(context.Background(), 1)
	if err != nil {
		t.Fatalf("OnClear failed: %v", err)
	}
	if cleared {
		t.Error("Clearing an inactive gate must be a no-op")
	}
}

func TestOnBreach_StateStoreFailure(t *testing.T) {
	states := newMemStates()
	states.err = errors.New("db down")
	dedup := alert.NewDeduplicator(states)

	event, _, err := dedup.OnBreach(context.Background(), testProfile, 11.0, dedupHour, dedupHour)
	if err == nil {
		t.Fatal("Expected error when state store fails")
	}
	if event != nil {
		t.Error("Must fail closed: no event when the gate is unreadable")
	}
}
