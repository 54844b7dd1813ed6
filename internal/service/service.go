package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/sitewatch/services/monitoring/internal/cache"
	"example.com/sitewatch/services/monitoring/internal/evaluator"
	"example.com/sitewatch/services/monitoring/internal/models"
	"example.com/sitewatch/services/monitoring/internal/repository"
	"example.com/sitewatch/services/monitoring/internal/timeseries"
	"example.com/sitewatch/services/monitoring/internal/watchdog"

	"github.com/sirupsen/logrus"
)

// ErrOverlappingConditions is returned when submitted range conditions
// share points with each other or with stored active conditions
var ErrOverlappingConditions = errors.New("range conditions overlap for the same target")

// ErrUnknownSensorClass is returned for readings or conditions naming
// an unregistered class
var ErrUnknownSensorClass = errors.New("unknown sensor class")

// Service defines the business logic operations
type Service interface {
	// IngestReading runs one reading through the monitoring pipeline
	IngestReading(ctx context.Context, reading *models.Reading) error

	// Condition management (validation lives here; editing UI is external)
	CreateConditions(ctx context.Context, conditions []*models.Condition) error
	DeleteCondition(ctx context.Context, id uint) error
	DeleteConditionsBySensorClass(ctx context.Context, class models.SensorClass) error
	ListConditions(ctx context.Context, class models.SensorClass) ([]*models.Condition, error)

	// ListAlertEvents returns recent events for a device
	ListAlertEvents(ctx context.Context, deviceID string, limit int) ([]*models.AlertEvent, error)

	// ReconcileWatchdogs re-arms liveness timers lost on restart
	ReconcileWatchdogs(ctx context.Context) error

	// Shutdown stops background work
	Shutdown(ctx context.Context) error
}

// ServiceConfig bundles the service dependencies
type ServiceConfig struct {
	Repository             repository.Repository
	States                 *cache.DeviceStateCache
	Evaluator              *evaluator.Evaluator
	Watchdog               *watchdog.Watchdog
	TimeSeries             timeseries.Store
	DefaultReportingPeriod int
	Logger                 *logrus.Logger
}

// service is an implementation of the Service interface
type service struct {
	repo                   repository.Repository
	states                 *cache.DeviceStateCache
	evaluator              *evaluator.Evaluator
	watchdog               *watchdog.Watchdog
	timeseries             timeseries.Store
	defaultReportingPeriod int
	log                    *logrus.Logger
}

// NewService creates a new service instance
func NewService(cfg ServiceConfig) (Service, error) {
	if cfg.Repository == nil || cfg.States == nil || cfg.Evaluator == nil ||
		cfg.Watchdog == nil || cfg.TimeSeries == nil {
		return nil, errors.New("service: missing dependency")
	}
	if cfg.DefaultReportingPeriod <= 0 {
		cfg.DefaultReportingPeriod = 60
	}
	return &service{
		repo:                   cfg.Repository,
		states:                 cfg.States,
		evaluator:              cfg.Evaluator,
		watchdog:               cfg.Watchdog,
		timeseries:             cfg.TimeSeries,
		defaultReportingPeriod: cfg.DefaultReportingPeriod,
		log:                    cfg.Logger,
	}, nil
}

// IngestReading resolves the device, stores the live sample, runs
// condition evaluation and re-arms the liveness timer. Readings from
// unregistered devices are dropped with cache.ErrDeviceNotFound and
// arm nothing - there is nothing to track.
func (s *service) IngestReading(ctx context.Context, reading *models.Reading) error {
	spec, ok := models.SensorClassSpecFor(reading.SensorClass)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSensorClass, reading.SensorClass)
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now().UTC()
	}

	state, err := s.states.Resolve(ctx, reading.DeviceID)
	if err != nil {
		return err
	}

	// Location rides along on readings from mobile-mounted sensors
	if reading.Longitude != nil && reading.Latitude != nil {
		if err := s.states.SetLocation(ctx, reading.DeviceID, *reading.Longitude, *reading.Latitude); err != nil {
			s.log.WithFields(logrus.Fields{
				"device_id": reading.DeviceID,
				"error":     err.Error(),
			}).Warn("Failed to update device location")
		}
	}

	// The live sample lands in the time-series store regardless of
	// evaluation outcome; gap recovery measures from it
	if err := s.timeseries.Write(ctx, timeseries.Sample{
		DeviceID:    reading.DeviceID,
		Measurement: spec.Measurement,
		Fields:      reading.Values,
		Timestamp:   reading.Timestamp,
	}); err != nil {
		s.log.WithFields(logrus.Fields{
			"device_id": reading.DeviceID,
			"error":     err.Error(),
		}).Error("Failed to store live sample")
	}

	evalErr := s.evaluator.Evaluate(ctx, reading)

	// The reading arrived, so the device is alive: re-arm even when
	// evaluation reported an error
	period := state.ReportingPeriod
	if period <= 0 {
		period = s.defaultReportingPeriod
	}
	s.watchdog.Observe(reading.DeviceID, reading.SensorClass, period)

	return evalErr
}

// CreateConditions validates and persists a batch of conditions.
// Range conditions must not overlap each other or any stored active
// condition for the same target; overlap is checked on the derived
// windows.
func (s *service) CreateConditions(ctx context.Context, conditions []*models.Condition) error {
	for _, condition := range conditions {
		if err := validateCondition(condition); err != nil {
			return err
		}
	}

	// Pairwise within the batch
	for i := 0; i < len(conditions); i++ {
		for j := i + 1; j < len(conditions); j++ {
			overlap, err := models.HasOverlap(conditions[i], conditions[j])
			if err != nil {
				return err
			}
			if overlap {
				return ErrOverlappingConditions
			}
		}
	}

	// Against stored active conditions
	for _, condition := range conditions {
		if condition.Mode != models.ConditionModeRange {
			continue
		}
		existing, err := s.repo.FindActiveConditions(ctx, condition.SensorClass)
		if err != nil {
			return err
		}
		for _, other := range existing {
			overlap, err := models.HasOverlap(condition, other)
			if err != nil {
				return err
			}
			if overlap {
				return ErrOverlappingConditions
			}
		}
	}

	for _, condition := range conditions {
		if err := s.repo.CreateCondition(ctx, condition); err != nil {
			return err
		}
	}
	return nil
}

// validateCondition checks structural consistency before persistence
func validateCondition(condition *models.Condition) error {
	if _, ok := models.SensorClassSpecFor(condition.SensorClass); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSensorClass, condition.SensorClass)
	}
	// DISCONNECTED is the liveness state, never an alerting level, so
	// only ranked severities may back a condition
	if condition.Severity.Rank() < 0 {
		return fmt.Errorf("invalid severity %q", condition.Severity)
	}
	switch condition.Mode {
	case models.ConditionModeSingle:
		if condition.Threshold == nil {
			return models.ErrMissingBounds
		}
		if condition.Operator != models.OperatorGTE && condition.Operator != models.OperatorLTE {
			return fmt.Errorf("operator %q not valid for single mode", condition.Operator)
		}
	case models.ConditionModeRange:
		if condition.LowerBound == nil || condition.UpperBound == nil {
			return models.ErrMissingBounds
		}
		if condition.Operator != models.OperatorBetween {
			return fmt.Errorf("operator %q not valid for range mode", condition.Operator)
		}
	case models.ConditionModeBoolean:
		if condition.ExpectedBool == nil {
			return models.ErrMissingBounds
		}
	default:
		return fmt.Errorf("unknown condition mode %q", condition.Mode)
	}
	return nil
}

// DeleteCondition removes a condition
func (s *service) DeleteCondition(ctx context.Context, id uint) error {
	return s.repo.DeleteCondition(ctx, id)
}

// DeleteConditionsBySensorClass removes every condition for a class
func (s *service) DeleteConditionsBySensorClass(ctx context.Context, class models.SensorClass) error {
	if _, ok := models.SensorClassSpecFor(class); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSensorClass, class)
	}
	return s.repo.DeleteConditionsBySensorClass(ctx, class)
}

// ListConditions lists conditions, optionally filtered by class
func (s *service) ListConditions(ctx context.Context, class models.SensorClass) ([]*models.Condition, error) {
	return s.repo.ListConditions(ctx, class)
}

// ListAlertEvents returns recent events for a device
func (s *service) ListAlertEvents(ctx context.Context, deviceID string, limit int) ([]*models.AlertEvent, error) {
	return s.repo.ListAlertEvents(ctx, deviceID, limit)
}

// ReconcileWatchdogs arms a timer for every registered device that
// has reported at least once but has no live timer. Timers are not
// persisted, so this sweep is what rebuilds monitoring after a
// restart for devices that stay silent.
func (s *service) ReconcileWatchdogs(ctx context.Context) error {
	states, err := s.repo.ListDeviceStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list device states: %w", err)
	}

	armed := 0
	for _, state := range states {
		if s.watchdog.Armed(state.DeviceID, state.SensorClass) {
			continue
		}
		spec, ok := models.SensorClassSpecFor(state.SensorClass)
		if !ok {
			continue
		}
		_, found, err := s.timeseries.LastSampleTime(ctx, state.DeviceID, spec.Measurement)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"device_id": state.DeviceID,
				"error":     err.Error(),
			}).Warn("Failed to check sample history during reconcile")
			continue
		}
		if !found {
			// Never reported; monitoring starts with its first reading
			continue
		}
		period := state.ReportingPeriod
		if period <= 0 {
			period = s.defaultReportingPeriod
		}
		s.watchdog.Observe(state.DeviceID, state.SensorClass, period)
		armed++
	}

	if armed > 0 {
		s.log.WithField("armed", armed).Info("Watchdog reconcile re-armed timers")
	}
	return nil
}

// Shutdown stops the watchdog
func (s *service) Shutdown(ctx context.Context) error {
	return s.watchdog.Shutdown(ctx)
}
