package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"example.com/sitewatch/services/monitoring/internal/models"
	"example.com/sitewatch/services/monitoring/internal/repository"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) FindDeviceState(ctx context.Context, deviceID string) (*models.DeviceState, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DeviceState), args.Error(1)
}

func (m *MockDeviceStore) UpdateDeviceStatus(ctx context.Context, deviceID string, status models.Severity) error {
	args := m.Called(ctx, deviceID, status)
	return args.Error(0)
}

func (m *MockDeviceStore) UpdateDeviceLocation(ctx context.Context, deviceID string, longitude, latitude float64) error {
	args := m.Called(ctx, deviceID, longitude, latitude)
	return args.Error(0)
}

func testState() *models.DeviceState {
	return &models.DeviceState{
		DeviceID:        "dev-1",
		SensorClass:     models.SensorClassEnvironment,
		SiteID:          7,
		Status:          models.SeverityNormal,
		ReportingPeriod: 60,
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	store := new(MockDeviceStore)
	store.On("FindDeviceState", mock.Anything, "dev-1").Return(testState(), nil).Once()

	c := NewDeviceStateCache(store, time.Hour)

	first, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)

	// Second resolve is served from memory; the mock would fail on a
	// second store call
	second, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, first, second)
	store.AssertExpectations(t)
}

func TestResolveReturnsPrivateCopy(t *testing.T) {
	store := new(MockDeviceStore)
	store.On("FindDeviceState", mock.Anything, "dev-1").Return(testState(), nil).Once()
	store.On("UpdateDeviceStatus", mock.Anything, "dev-1", models.SeverityDanger).Return(nil)

	c := NewDeviceStateCache(store, time.Hour)

	first, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)

	second, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotSame(t, first, second)

	// A status write does not reach into records already handed out
	require.NoError(t, c.SetStatus(context.Background(), "dev-1", models.SeverityDanger))
	require.Equal(t, models.SeverityNormal, first.Status)

	// Mutating a returned record does not poison the cache
	first.Status = models.SeverityCaution
	state, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, models.SeverityDanger, state.Status)
}

func TestConcurrentResolveAndSetStatus(t *testing.T) {
	store := new(MockDeviceStore)
	store.On("FindDeviceState", mock.Anything, "dev-1").Return(testState(), nil)
	store.On("UpdateDeviceStatus", mock.Anything, "dev-1", mock.Anything).Return(nil)

	c := NewDeviceStateCache(store, time.Hour)
	_, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)

	// Readers and a status writer hammer the same device; every read
	// must see a complete severity value
	errs := make(chan error, 5)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				state, err := c.Resolve(context.Background(), "dev-1")
				if err != nil {
					errs <- err
					return
				}
				if !state.Status.Valid() {
					errs <- fmt.Errorf("torn status read: %q", state.Status)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		statuses := []models.Severity{
			models.SeverityNormal,
			models.SeverityWarning,
			models.SeverityDanger,
		}
		for i := 0; i < 200; i++ {
			if err := c.SetStatus(context.Background(), "dev-1", statuses[i%len(statuses)]); err != nil {
				errs <- err
				return
			}
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestResolveReloadsAfterTTL(t *testing.T) {
	store := new(MockDeviceStore)
	store.On("FindDeviceState", mock.Anything, "dev-1").Return(testState(), nil).Twice()

	c := NewDeviceStateCache(store, time.Minute)
	current := time.Now()
	c.now = func() time.Time { return current }

	_, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)

	// Advance past the TTL
	current = current.Add(2 * time.Minute)
	_, err = c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestResolveUnregistered(t *testing.T) {
	store := new(MockDeviceStore)
	store.On("FindDeviceState", mock.Anything, "ghost").Return(nil, repository.ErrNotFound)

	c := NewDeviceStateCache(store, time.Hour)

	_, err := c.Resolve(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestSetStatusWritesThrough(t *testing.T) {
	store := new(MockDeviceStore)
	store.On("FindDeviceState", mock.Anything, "dev-1").Return(testState(), nil).Once()
	store.On("UpdateDeviceStatus", mock.Anything, "dev-1", models.SeverityDanger).Return(nil)

	c := NewDeviceStateCache(store, time.Hour)

	_, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)

	require.NoError(t, c.SetStatus(context.Background(), "dev-1", models.SeverityDanger))

	// Cached entry reflects the write without a reload
	state, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, models.SeverityDanger, state.Status)
	store.AssertExpectations(t)
}

func TestSetStatusStoreFailure(t *testing.T) {
	store := new(MockDeviceStore)
	store.On("UpdateDeviceStatus", mock.Anything, "dev-1", models.SeverityDanger).
		Return(errors.New("db down"))

	c := NewDeviceStateCache(store, time.Hour)
	require.Error(t, c.SetStatus(context.Background(), "dev-1", models.SeverityDanger))
}

func TestSetLocationWritesThrough(t *testing.T) {
	store := new(MockDeviceStore)
	store.On("FindDeviceState", mock.Anything, "dev-1").Return(testState(), nil).Once()
	store.On("UpdateDeviceLocation", mock.Anything, "dev-1", 36.8, -1.3).Return(nil)

	c := NewDeviceStateCache(store, time.Hour)

	_, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)

	require.NoError(t, c.SetLocation(context.Background(), "dev-1", 36.8, -1.3))

	state, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, 36.8, state.Longitude)
	require.Equal(t, -1.3, state.Latitude)
}

func TestInvalidateForcesReload(t *testing.T) {
	store := new(MockDeviceStore)
	store.On("FindDeviceState", mock.Anything, "dev-1").Return(testState(), nil).Twice()

	c := NewDeviceStateCache(store, time.Hour)

	_, err := c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)

	c.Invalidate("dev-1")

	_, err = c.Resolve(context.Background(), "dev-1")
	require.NoError(t, err)
	store.AssertExpectations(t)
}
