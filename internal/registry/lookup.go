package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/model"
	"github.com/voltmon/energy-usage-worker/internal/repository"
)

// ErrUnknownDevice is returned for readings that reference a device the
// registry does not know. Such readings are rejected, never aggregated.
var ErrUnknownDevice = errors.New("unknown device")

// UserSource fetches user profiles from the registry projection.
type UserSource interface {
	GetUser(ctx context.Context, userID int64) (*model.UserProfile, error)
}

// DeviceSource resolves device ownership from the registry projection.
type DeviceSource interface {
	GetDeviceOwner(ctx context.Context, deviceID int64) (int64, error)
}

// UserLookup caches user profiles with a bounded TTL so the monitor
// does not hammer the registry every sweep. Threshold changes become
// visible within one TTL.
type UserLookup struct {
	source UserSource
	cache  *ttlCache[int64, model.UserProfile]
}

// NewUserLookup creates a TTL-cached user profile lookup.
func NewUserLookup(source UserSource, ttl time.Duration) *UserLookup {
	return &UserLookup{
		source: source,
		cache:  newTTLCache[int64, model.UserProfile](ttl),
	}
}

// GetUser returns a user's alerting profile, served from cache when fresh.
func (l *UserLookup) GetUser(ctx context.Context, userID int64) (*model.UserProfile, error) {
	if profile, ok := l.cache.get(userID); ok {
		return &profile, nil
	}

	profile, err := l.source.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profile lookup for user %d: %w", userID, err)
	}

	l.cache.put(userID, *profile)
	return profile, nil
}

// DeviceLookup caches device ownership. Ownership changes rarely, so
// the TTL is longer than the profile cache's.
type DeviceLookup struct {
	source DeviceSource
	cache  *ttlCache[int64, int64]
}

// NewDeviceLookup creates a TTL-cached device ownership lookup.
func NewDeviceLookup(source DeviceSource, ttl time.Duration) *DeviceLookup {
	return &DeviceLookup{
		source: source,
		cache:  newTTLCache[int64, int64](ttl),
	}
}

// ResolveOwner maps a device to its owning user.
func (l *DeviceLookup) ResolveOwner(ctx context.Context, deviceID int64) (int64, error) {
	if userID, ok := l.cache.get(deviceID); ok {
		return userID, nil
	}

	userID, err := l.source.GetDeviceOwner(ctx, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, fmt.Errorf("device %d: %w", deviceID, ErrUnknownDevice)
	}
	if err != nil {
		return 0, fmt.Errorf("ownership lookup for device %d: %w", deviceID, err)
	}

	l.cache.put(deviceID, userID)
	return userID, nil
}
