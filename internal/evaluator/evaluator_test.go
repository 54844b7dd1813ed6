package evaluator

import (
	"context"
	"sync"
	"testing"
	"time"

	"example.com/sitewatch/services/monitoring/internal/cache"
	"example.com/sitewatch/services/monitoring/internal/models"
	"example.com/sitewatch/services/monitoring/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

// Mock device store backing the state cache
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

// Mock condition source
type MockConditionSource struct {
	mock.Mock
}

func (m *MockConditionSource) FindActiveConditions(ctx context.Context, class models.SensorClass) ([]*models.Condition, error) {
	args := m.Called(ctx, class)
	return args.Get(0).([]*models.Condition), args.Error(1)
}

// Recording event sink
type recordingSink struct {
	mu     sync.Mutex
	events []*models.AlertEvent
	notify []bool
	err    error
}

func (s *recordingSink) RecordAndNotify(ctx context.Context, event *models.AlertEvent, notify bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.notify = append(s.notify, notify)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func deviceState(status models.Severity) *models.DeviceState {
	return &models.DeviceState{
		DeviceID:        "dev-1",
		SensorClass:     models.SensorClassEnvironment,
		SiteID:          7,
		Status:          status,
		ReportingPeriod: 60,
		Longitude:       36.8,
		Latitude:        -1.3,
	}
}

func newTestEvaluator(t *testing.T, store *MockDeviceStore, conditions *MockConditionSource, sink EventSink) *Evaluator {
	t.Helper()
	states := cache.NewDeviceStateCache(store, time.Hour)
	return NewEvaluator(conditions, states, sink, testLogger())
}

func reading(values map[string]float64) *models.Reading {
	return &models.Reading{
		DeviceID:    "dev-1",
		SensorClass: models.SensorClassEnvironment,
		Values:      values,
		Timestamp:   time.Now().UTC(),
	}
}

func TestEvaluateUnregisteredDevice(t *testing.T) {
	store := new(MockDeviceStore)
	conditions := new(MockConditionSource)
	sink := &recordingSink{}

	store.On("FindDeviceState", mock.Anything, "dev-1").Return(nil, repository.ErrNotFound)

	eval := newTestEvaluator(t, store, conditions, sink)
	err := eval.Evaluate(context.Background(), reading(map[string]float64{models.FieldTemperature: 25}))

	require.ErrorIs(t, err, cache.ErrDeviceNotFound)
	require.Zero(t, sink.count())
}

func TestEvaluateThresholdFires(t *testing.T) {
	tests := []struct {
		name     string
		operator models.ConditionOperator
		limit    float64
		value    float64
		fires    bool
	}{
		{"gte above fires", models.OperatorGTE, 35, 40, true},
		{"gte at boundary fires", models.OperatorGTE, 35, 35, true},
		{"gte below quiet", models.OperatorGTE, 35, 34.9, false},
		{"lte below fires", models.OperatorLTE, 5, 2, true},
		{"lte at boundary fires", models.OperatorLTE, 5, 5, true},
		{"lte above quiet", models.OperatorLTE, 5, 5.1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockDeviceStore)
			conditions := new(MockConditionSource)
			sink := &recordingSink{}

			store.On("FindDeviceState", mock.Anything, "dev-1").Return(deviceState(models.SeverityNormal), nil)
			conditions.On("FindActiveConditions", mock.Anything, models.SensorClassEnvironment).Return([]*models.Condition{
				{
					SensorClass:   models.SensorClassEnvironment,
					FieldKey:      models.FieldTemperature,
					Severity:      models.SeverityWarning,
					Mode:          models.ConditionModeSingle,
					Operator:      tt.operator,
					Threshold:     f(tt.limit),
					Active:        true,
					NotifyEnabled: true,
				},
			}, nil)
			if tt.fires {
				store.On("UpdateDeviceStatus", mock.Anything, "dev-1", models.SeverityWarning).Return(nil)
			}

			eval := newTestEvaluator(t, store, conditions, sink)
			err := eval.Evaluate(context.Background(), reading(map[string]float64{models.FieldTemperature: tt.value}))

			require.NoError(t, err)
			if tt.fires {
				require.Equal(t, 1, sink.count())
				require.Equal(t, models.SeverityWarning, sink.events[0].Severity)
				require.Equal(t, tt.value, sink.events[0].Value)
			} else {
				require.Zero(t, sink.count())
			}
			store.AssertExpectations(t)
		})
	}
}

func TestEvaluateDisplacementFiresOutsideWindow(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		fires bool
	}{
		{"inside window quiet", 100, false},
		{"just inside quiet", 104.9, false},
		{"at upper edge fires", 105, true},
		{"at lower edge fires", 95, true},
		{"far outside fires", 130, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockDeviceStore)
			conditions := new(MockConditionSource)
			sink := &recordingSink{}

			state := deviceState(models.SeverityNormal)
			state.SensorClass = models.SensorClassDisplacement
			store.On("FindDeviceState", mock.Anything, "dev-1").Return(state, nil)
			conditions.On("FindActiveConditions", mock.Anything, models.SensorClassDisplacement).Return([]*models.Condition{
				{
					SensorClass:   models.SensorClassDisplacement,
					FieldKey:      models.FieldDisplacement,
					Severity:      models.SeverityCaution,
					Mode:          models.ConditionModeRange,
					Operator:      models.OperatorBetween,
					LowerBound:    f(100), // center
					UpperBound:    f(5),   // tolerance
					Active:        true,
					NotifyEnabled: true,
				},
			}, nil)
			if tt.fires {
				store.On("UpdateDeviceStatus", mock.Anything, "dev-1", models.SeverityCaution).Return(nil)
			}

			eval := newTestEvaluator(t, store, conditions, sink)
			err := eval.Evaluate(context.Background(), &models.Reading{
				DeviceID:    "dev-1",
				SensorClass: models.SensorClassDisplacement,
				Values:      map[string]float64{models.FieldDisplacement: tt.value},
				Timestamp:   time.Now().UTC(),
			})

			require.NoError(t, err)
			if tt.fires {
				require.Equal(t, 1, sink.count())
				// Event carries the derived window, not the stored pair
				require.Equal(t, 95.0, *sink.events[0].LowerBound)
				require.Equal(t, 105.0, *sink.events[0].UpperBound)
			} else {
				require.Zero(t, sink.count())
			}
		})
	}
}

func TestEvaluateBooleanEpsilon(t *testing.T) {
	expected := true
	condition := &models.Condition{
		SensorClass:   models.SensorClassFire,
		FieldKey:      models.FieldFlameDetect,
		Severity:      models.SeverityDanger,
		Mode:          models.ConditionModeBoolean,
		ExpectedBool:  &expected,
		Active:        true,
		NotifyEnabled: true,
	}

	tests := []struct {
		name  string
		value float64
		fires bool
	}{
		{"exact true fires", 1.0, true},
		{"within epsilon fires", 1.0005, true},
		{"outside epsilon quiet", 1.01, false},
		{"false quiet", 0.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockDeviceStore)
			conditions := new(MockConditionSource)
			sink := &recordingSink{}

			state := deviceState(models.SeverityNormal)
			state.SensorClass = models.SensorClassFire
			store.On("FindDeviceState", mock.Anything, "dev-1").Return(state, nil)
			conditions.On("FindActiveConditions", mock.Anything, models.SensorClassFire).Return(
				[]*models.Condition{condition}, nil)
			if tt.fires {
				store.On("UpdateDeviceStatus", mock.Anything, "dev-1", models.SeverityDanger).Return(nil)
			}

			eval := newTestEvaluator(t, store, conditions, sink)
			err := eval.Evaluate(context.Background(), &models.Reading{
				DeviceID:    "dev-1",
				SensorClass: models.SensorClassFire,
				Values:      map[string]float64{models.FieldFlameDetect: tt.value},
				Timestamp:   time.Now().UTC(),
			})

			require.NoError(t, err)
			require.Equal(t, tt.fires, sink.count() == 1)
		})
	}
}

func TestEvaluateSuppressesSteadyState(t *testing.T) {
	store := new(MockDeviceStore)
	conditions := new(MockConditionSource)
	sink := &recordingSink{}

	// Device already at WARNING; the same condition matching again must
	// raise no new event and must not reset the status either
	store.On("FindDeviceState", mock.Anything, "dev-1").Return(deviceState(models.SeverityWarning), nil)
	conditions.On("FindActiveConditions", mock.Anything, models.SensorClassEnvironment).Return([]*models.Condition{
		{
			SensorClass:   models.SensorClassEnvironment,
			FieldKey:      models.FieldTemperature,
			Severity:      models.SeverityWarning,
			Mode:          models.ConditionModeSingle,
			Operator:      models.OperatorGTE,
			Threshold:     f(35),
			Active:        true,
			NotifyEnabled: true,
		},
	}, nil)

	eval := newTestEvaluator(t, store, conditions, sink)
	err := eval.Evaluate(context.Background(), reading(map[string]float64{models.FieldTemperature: 40}))

	require.NoError(t, err)
	require.Zero(t, sink.count())
	// No UpdateDeviceStatus expectation was set; AssertExpectations
	// fails if the evaluator touched the status
	store.AssertExpectations(t)
}

func TestEvaluateResetsToNormal(t *testing.T) {
	store := new(MockDeviceStore)
	conditions := new(MockConditionSource)
	sink := &recordingSink{}

	store.On("FindDeviceState", mock.Anything, "dev-1").Return(deviceState(models.SeverityDanger), nil)
	conditions.On("FindActiveConditions", mock.Anything, models.SensorClassEnvironment).Return([]*models.Condition{
		{
			SensorClass:   models.SensorClassEnvironment,
			FieldKey:      models.FieldTemperature,
			Severity:      models.SeverityDanger,
			Mode:          models.ConditionModeSingle,
			Operator:      models.OperatorGTE,
			Threshold:     f(60),
			Active:        true,
			NotifyEnabled: true,
		},
	}, nil)
	store.On("UpdateDeviceStatus", mock.Anything, "dev-1", models.SeverityNormal).Return(nil)

	eval := newTestEvaluator(t, store, conditions, sink)
	err := eval.Evaluate(context.Background(), reading(map[string]float64{models.FieldTemperature: 20}))

	require.NoError(t, err)
	require.Zero(t, sink.count())
	store.AssertExpectations(t)
}

func TestEvaluateNormalStaysQuiet(t *testing.T) {
	store := new(MockDeviceStore)
	conditions := new(MockConditionSource)
	sink := &recordingSink{}

	store.On("FindDeviceState", mock.Anything, "dev-1").Return(deviceState(models.SeverityNormal), nil)
	conditions.On("FindActiveConditions", mock.Anything, models.SensorClassEnvironment).Return(
		[]*models.Condition{}, nil)

	eval := newTestEvaluator(t, store, conditions, sink)
	err := eval.Evaluate(context.Background(), reading(map[string]float64{models.FieldTemperature: 20}))

	// Already NORMAL with no matches: no event, no status write
	require.NoError(t, err)
	require.Zero(t, sink.count())
	store.AssertExpectations(t)
}

func TestEvaluateTopSeverityWins(t *testing.T) {
	store := new(MockDeviceStore)
	conditions := new(MockConditionSource)
	sink := &recordingSink{}

	store.On("FindDeviceState", mock.Anything, "dev-1").Return(deviceState(models.SeverityNormal), nil)
	conditions.On("FindActiveConditions", mock.Anything, models.SensorClassEnvironment).Return([]*models.Condition{
		{
			SensorClass:   models.SensorClassEnvironment,
			FieldKey:      models.FieldTemperature,
			Severity:      models.SeverityWarning,
			Mode:          models.ConditionModeSingle,
			Operator:      models.OperatorGTE,
			Threshold:     f(35),
			Active:        true,
			NotifyEnabled: true,
		},
		{
			SensorClass:   models.SensorClassEnvironment,
			FieldKey:      models.FieldTemperature,
			Severity:      models.SeverityDanger,
			Mode:          models.ConditionModeSingle,
			Operator:      models.OperatorGTE,
			Threshold:     f(60),
			Active:        true,
			NotifyEnabled: true,
		},
	}, nil)
	// Both conditions match at 70; the device lands on DANGER
	store.On("UpdateDeviceStatus", mock.Anything, "dev-1", models.SeverityDanger).Return(nil)

	eval := newTestEvaluator(t, store, conditions, sink)
	err := eval.Evaluate(context.Background(), reading(map[string]float64{models.FieldTemperature: 70}))

	require.NoError(t, err)
	require.Equal(t, 2, sink.count())
	store.AssertExpectations(t)
}

func TestEvaluateDowngradesFromHigherStatus(t *testing.T) {
	store := new(MockDeviceStore)
	conditions := new(MockConditionSource)
	sink := &recordingSink{}

	// Device at DANGER, only the WARNING condition still matches: the
	// cycle's own top severity wins, the stale DANGER does not stick
	store.On("FindDeviceState", mock.Anything, "dev-1").Return(deviceState(models.SeverityDanger), nil)
	conditions.On("FindActiveConditions", mock.Anything, models.SensorClassEnvironment).Return([]*models.Condition{
		{
			SensorClass:   models.SensorClassEnvironment,
			FieldKey:      models.FieldTemperature,
			Severity:      models.SeverityWarning,
			Mode:          models.ConditionModeSingle,
			Operator:      models.OperatorGTE,
			Threshold:     f(35),
			Active:        true,
			NotifyEnabled: true,
		},
	}, nil)
	store.On("UpdateDeviceStatus", mock.Anything, "dev-1", models.SeverityWarning).Return(nil)

	eval := newTestEvaluator(t, store, conditions, sink)
	err := eval.Evaluate(context.Background(), reading(map[string]float64{models.FieldTemperature: 40}))

	require.NoError(t, err)
	require.Equal(t, 1, sink.count())
	store.AssertExpectations(t)
}

func TestEvaluateSkipsMalformedCondition(t *testing.T) {
	store := new(MockDeviceStore)
	conditions := new(MockConditionSource)
	sink := &recordingSink{}

	store.On("FindDeviceState", mock.Anything, "dev-1").Return(deviceState(models.SeverityNormal), nil)
	conditions.On("FindActiveConditions", mock.Anything, models.SensorClassEnvironment).Return([]*models.Condition{
		{
			// Missing threshold: skipped, not fatal
			SensorClass: models.SensorClassEnvironment,
			FieldKey:    models.FieldTemperature,
			Severity:    models.SeverityWarning,
			Mode:        models.ConditionModeSingle,
			Operator:    models.OperatorGTE,
			Active:      true,
		},
		{
			SensorClass:   models.SensorClassEnvironment,
			FieldKey:      models.FieldTemperature,
			Severity:      models.SeverityCaution,
			Mode:          models.ConditionModeSingle,
			Operator:      models.OperatorGTE,
			Threshold:     f(30),
			Active:        true,
			NotifyEnabled: true,
		},
	}, nil)
	store.On("UpdateDeviceStatus", mock.Anything, "dev-1", models.SeverityCaution).Return(nil)

	eval := newTestEvaluator(t, store, conditions, sink)
	err := eval.Evaluate(context.Background(), reading(map[string]float64{models.FieldTemperature: 40}))

	require.NoError(t, err)
	require.Equal(t, 1, sink.count())
	require.Equal(t, models.SeverityCaution, sink.events[0].Severity)
}

func TestEvaluateNotifyFlagPropagates(t *testing.T) {
	store := new(MockDeviceStore)
	conditions := new(MockConditionSource)
	sink := &recordingSink{}

	store.On("FindDeviceState", mock.Anything, "dev-1").Return(deviceState(models.SeverityNormal), nil)
	conditions.On("FindActiveConditions", mock.Anything, models.SensorClassEnvironment).Return([]*models.Condition{
		{
			SensorClass:   models.SensorClassEnvironment,
			FieldKey:      models.FieldTemperature,
			Severity:      models.SeverityWarning,
			Mode:          models.ConditionModeSingle,
			Operator:      models.OperatorGTE,
			Threshold:     f(35),
			Active:        true,
			NotifyEnabled: false,
		},
	}, nil)
	store.On("UpdateDeviceStatus", mock.Anything, "dev-1", models.SeverityWarning).Return(nil)

	eval := newTestEvaluator(t, store, conditions, sink)
	err := eval.Evaluate(context.Background(), reading(map[string]float64{models.FieldTemperature: 40}))

	// Event is still recorded, just without fan-out
	require.NoError(t, err)
	require.Equal(t, 1, sink.count())
	require.False(t, sink.notify[0])
}
