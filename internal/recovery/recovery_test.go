package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"example.com/sitewatch/services/monitoring/internal/models"
	"example.com/sitewatch/services/monitoring/internal/timeseries"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSampleStore struct {
	mock.Mock
}

func (m *MockSampleStore) LastSampleTime(ctx context.Context, deviceID, measurement string) (time.Time, bool, error) {
	args := m.Called(ctx, deviceID, measurement)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func (m *MockSampleStore) Write(ctx context.Context, sample timeseries.Sample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) FetchRange(ctx context.Context, deviceID, objectKey string, from, to time.Time) ([]timeseries.Sample, error) {
	args := m.Called(ctx, deviceID, objectKey, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]timeseries.Sample), args.Error(1)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestRecoverNoPriorSamples(t *testing.T) {
	store := new(MockSampleStore)
	up := new(MockUpstream)

	store.On("LastSampleTime", mock.Anything, "dev-1", "environment").
		Return(time.Time{}, false, nil)

	svc := NewService(store, up, testLogger())
	err := svc.Recover(context.Background(), "dev-1", models.SensorClassEnvironment, 7)

	// Nothing to measure the gap from: a successful no-op
	require.NoError(t, err)
	up.AssertNotCalled(t, "FetchRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRecoverReplaysMissedRange(t *testing.T) {
	store := new(MockSampleStore)
	up := new(MockUpstream)

	last := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	now := last.Add(30 * time.Minute)

	missed := []timeseries.Sample{
		{DeviceID: "dev-1", Fields: map[string]float64{models.FieldTemperature: 24}, Timestamp: last.Add(10 * time.Minute)},
		{DeviceID: "dev-1", Fields: map[string]float64{models.FieldTemperature: 25}, Timestamp: last.Add(20 * time.Minute)},
	}

	store.On("LastSampleTime", mock.Anything, "dev-1", "environment").Return(last, true, nil)
	up.On("FetchRange", mock.Anything, "dev-1", "env-sensor", last, now).Return(missed, nil)
	store.On("Write", mock.Anything, mock.MatchedBy(func(s timeseries.Sample) bool {
		// Replayed samples get the class measurement stamped on
		return s.Measurement == "environment"
	})).Return(nil).Twice()

	svc := NewService(store, up, testLogger())
	svc.now = func() time.Time { return now }

	err := svc.Recover(context.Background(), "dev-1", models.SensorClassEnvironment, 7)
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestRecoverUpstreamFailure(t *testing.T) {
	store := new(MockSampleStore)
	up := new(MockUpstream)

	last := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store.On("LastSampleTime", mock.Anything, "dev-1", "environment").Return(last, true, nil)
	up.On("FetchRange", mock.Anything, "dev-1", "env-sensor", last, mock.Anything).
		Return(nil, errors.New("upstream unreachable"))

	svc := NewService(store, up, testLogger())
	err := svc.Recover(context.Background(), "dev-1", models.SensorClassEnvironment, 7)

	// Failure surfaces so the watchdog can count it
	require.Error(t, err)
	store.AssertNotCalled(t, "Write", mock.Anything, mock.Anything)
}

func TestRecoverStoreWriteFailure(t *testing.T) {
	store := new(MockSampleStore)
	up := new(MockUpstream)

	last := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store.On("LastSampleTime", mock.Anything, "dev-1", "environment").Return(last, true, nil)
	up.On("FetchRange", mock.Anything, "dev-1", "env-sensor", last, mock.Anything).
		Return([]timeseries.Sample{
			{DeviceID: "dev-1", Fields: map[string]float64{models.FieldTemperature: 24}, Timestamp: last.Add(time.Minute)},
		}, nil)
	store.On("Write", mock.Anything, mock.Anything).Return(errors.New("es down"))

	svc := NewService(store, up, testLogger())
	err := svc.Recover(context.Background(), "dev-1", models.SensorClassEnvironment, 7)
	require.Error(t, err)
}

func TestRecoverUnknownClass(t *testing.T) {
	store := new(MockSampleStore)
	up := new(MockUpstream)

	svc := NewService(store, up, testLogger())
	err := svc.Recover(context.Background(), "dev-1", models.SensorClass("submarine"), 7)
	require.Error(t, err)
	store.AssertNotCalled(t, "LastSampleTime", mock.Anything, mock.Anything, mock.Anything)
}
