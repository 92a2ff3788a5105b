package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/model"
	"github.com/voltmon/energy-usage-worker/internal/repository"
)

type fakeUserSource struct {
	profiles map[int64]model.UserProfile
	calls    int
}

func (f *fakeUserSource) GetUser(_ context.Context, userID int64) (*model.UserProfile, error) {
	f.calls++
	profile, ok := f.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, repository.ErrNotFound)
	}
	return &profile, nil
}

type fakeDeviceSource struct {
	owners map[int64]int64
	calls  int
}

func (f *fakeDeviceSource) GetDeviceOwner(_ context.Context, deviceID int64) (int64, error) {
	f.calls++
	userID, ok := f.owners[deviceID]
	if !ok {
		return 0, fmt.Errorf("device %d: %w", deviceID, repository.ErrNotFound)
	}
	return userID, nil
}

func TestGetUser_ServedFromCacheWithinTTL(t *testing.T) {
	source := &fakeUserSource{profiles: map[int64]model.UserProfile{
		1: {UserID: 1, Email: "user@example.com", Alerting: true, EnergyAlertingThreshold: 10.0},
	}}
	lookup := NewUserLookup(source, time.Minute)

	for i := 0; i < 3; i++ {
		profile, err := lookup.GetUser(context.Background(), 1)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if profile.Email != "user@example.com" {
			t.Errorf("Unexpected profile: %+v", profile)
		}
	}

	if source.calls != 1 {
		t.Errorf("Expected 1 source call, got %d", source.calls)
	}
}

func TestGetUser_RefetchesAfterExpiry(t *testing.T) {
	source := &fakeUserSource{profiles: map[int64]model.UserProfile{
		1: {UserID: 1, EnergyAlertingThreshold: 10.0},
	}}
	lookup := NewUserLookup(source, time.Minute)

	current := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	lookup.cache.now = func() time.Time { return current }

	if _, err := lookup.GetUser(context.Background(), 1); err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}

	// Threshold changes at the source; still cached.
	source.profiles[1] = model.UserProfile{UserID: 1, EnergyAlertingThreshold: 20.0}
	profile, _ := lookup.GetUser(context.Background(), 1)
	if profile.EnergyAlertingThreshold != 10.0 {
		t.Errorf("Expected cached threshold 10.0, got %f", profile.EnergyAlertingThreshold)
	}

	// Past the TTL the change becomes visible.
	current = current.Add(2 * time.Minute)
	profile, _ = lookup.GetUser(context.Background(), 1)
	if profile.EnergyAlertingThreshold != 20.0 {
		t.Errorf("Expected refreshed threshold 20.0, got %f", profile.EnergyAlertingThreshold)
	}
	if source.calls != 2 {
		t.Errorf("Expected 2 source calls, got %d", source.calls)
	}
}

func TestResolveOwner_MapsMissingDeviceToUnknownDevice(t *testing.T) {
	lookup := NewDeviceLookup(&fakeDeviceSource{owners: map[int64]int64{}}, time.Minute)

	_, err := lookup.ResolveOwner(context.Background(), 99)
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Expected ErrUnknownDevice, got %v", err)
	}
}

func TestResolveOwner_DoesNotCacheMisses(t *testing.T) {
	source := &fakeDeviceSource{owners: map[int64]int64{}}
	lookup := NewDeviceLookup(source, time.Minute)

	_, _ = lookup.ResolveOwner(context.Background(), 42)

	// The device registers after the miss; the next lookup must see it.
	source.owners[42] = 7
	userID, err := lookup.ResolveOwner(context.Background(), 42)
	if err != nil {
		t.Fatalf("ResolveOwner failed: %v", err)
	}
	if userID != 7 {
		t.Errorf("Expected owner 7, got %d", userID)
	}
}

func TestResolveOwner_CachesHits(t *testing.T) {
	source := &fakeDeviceSource{owners: map[int64]int64{42: 7}}
	lookup := NewDeviceLookup(source, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := lookup.ResolveOwner(context.Background(), 42); err != nil {
			t.Fatalf("ResolveOwner failed: %v", err)
		}
	}

	if source.calls != 1 {
		t.Errorf("Expected 1 source call, got %d", source.calls)
	}
}
