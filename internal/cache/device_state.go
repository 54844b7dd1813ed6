package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"example.com/sitewatch/services/monitoring/internal/models"
	"example.com/sitewatch/services/monitoring/internal/repository"
)

// ErrDeviceNotFound is returned when a reading references a device
// that was never registered
var ErrDeviceNotFound = errors.New("device not registered")

// DeviceStore is the backing store the cache loads from and writes
// through to
type DeviceStore interface {
	FindDeviceState(ctx context.Context, deviceID string) (*models.DeviceState, error)
	UpdateDeviceStatus(ctx context.Context, deviceID string, status models.Severity) error
	UpdateDeviceLocation(ctx context.Context, deviceID string, longitude, latitude float64) error
}

type stateEntry struct {
	state    *models.DeviceState
	loadedAt time.Time
}

// DeviceStateCache is a time-bounded cache over the device state
// store. Entries are reused until the TTL elapses; the device
// population is small relative to memory, so there is no eviction
// beyond TTL expiry. Status and location writes always go through the
// backing store so they are durable immediately.
type DeviceStateCache struct {
	store DeviceStore
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]*stateEntry

	now func() time.Time
}

// NewDeviceStateCache creates a cache with the supplied TTL
func NewDeviceStateCache(store DeviceStore, ttl time.Duration) *DeviceStateCache {
	return &DeviceStateCache{
		store:   store,
		ttl:     ttl,
		entries: make(map[string]*stateEntry),
		now:     time.Now,
	}
}

// Resolve returns the state record for a device, loading it from the
// backing store when absent or expired. Returns ErrDeviceNotFound for
// unregistered devices. The returned record is the caller's own copy:
// the cached entry is mutated under the lock by SetStatus and
// SetLocation, so sharing it would race with concurrent readers.
func (c *DeviceStateCache) Resolve(ctx context.Context, deviceID string) (*models.DeviceState, error) {
	c.mu.RLock()
	if entry, ok := c.entries[deviceID]; ok && c.now().Sub(entry.loadedAt) < c.ttl {
		snapshot := *entry.state
		c.mu.RUnlock()
		return &snapshot, nil
	}
	c.mu.RUnlock()

	state, err := c.store.FindDeviceState(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	// Snapshot before publishing: once the entry is in the map a
	// concurrent SetStatus may mutate it
	snapshot := *state

	c.mu.Lock()
	c.entries[deviceID] = &stateEntry{state: state, loadedAt: c.now()}
	c.mu.Unlock()

	return &snapshot, nil
}

// SetStatus persists a device's alert status through the backing
// store and keeps the cached entry in sync
func (c *DeviceStateCache) SetStatus(ctx context.Context, deviceID string, status models.Severity) error {
	if err := c.store.UpdateDeviceStatus(ctx, deviceID, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}

	c.mu.Lock()
	if entry, ok := c.entries[deviceID]; ok {
		entry.state.Status = status
	}
	c.mu.Unlock()

	return nil
}

// SetLocation persists the last reported coordinates through the
// backing store and keeps the cached entry in sync
func (c *DeviceStateCache) SetLocation(ctx context.Context, deviceID string, longitude, latitude float64) error {
	if err := c.store.UpdateDeviceLocation(ctx, deviceID, longitude, latitude); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}

	c.mu.Lock()
	if entry, ok := c.entries[deviceID]; ok {
		entry.state.Longitude = longitude
		entry.state.Latitude = latitude
	}
	c.mu.Unlock()

	return nil
}

// Invalidate drops the cached entry for a device
func (c *DeviceStateCache) Invalidate(deviceID string) {
	c.mu.Lock()
	delete(c.entries, deviceID)
	c.mu.Unlock()
}
