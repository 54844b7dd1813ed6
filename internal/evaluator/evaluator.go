package evaluator

import (
	"context"

	"example.com/sitewatch/services/monitoring/internal/cache"
	"example.com/sitewatch/services/monitoring/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultMaxConcurrentMatches bounds the per-reading fan-out
const defaultMaxConcurrentMatches = 4

// ConditionSource loads the active conditions for a sensor class
type ConditionSource interface {
	FindActiveConditions(ctx context.Context, class models.SensorClass) ([]*models.Condition, error)
}

// EventSink receives each fired condition match
type EventSink interface {
	RecordAndNotify(ctx context.Context, event *models.AlertEvent, notify bool) error
}

// Evaluator runs incoming readings against the active conditions of
// the device's sensor class. One evaluator serves all classes,
// parameterized by the class descriptors in models.
type Evaluator struct {
	conditions    ConditionSource
	states        *cache.DeviceStateCache
	sink          EventSink
	log           *logrus.Logger
	maxConcurrent int
}

// NewEvaluator creates an evaluator
func NewEvaluator(
	conditions ConditionSource,
	states *cache.DeviceStateCache,
	sink EventSink,
	log *logrus.Logger,
) *Evaluator {
	return &Evaluator{
		conditions:    conditions,
		states:        states,
		sink:          sink,
		log:           log,
		maxConcurrent: defaultMaxConcurrentMatches,
	}
}

// conditionMatch pairs a fired condition with the value that fired it
type conditionMatch struct {
	condition *models.Condition
	fieldKey  string
	value     float64
}

// Evaluate runs one reading through condition matching. Matches are
// processed concurrently and the call blocks until all complete: the
// reset-to-NORMAL decision may only run once every match of the cycle
// is known. Returns cache.ErrDeviceNotFound for unregistered devices.
func (e *Evaluator) Evaluate(ctx context.Context, reading *models.Reading) error {
	state, err := e.states.Resolve(ctx, reading.DeviceID)
	if err != nil {
		return err
	}

	conditions, err := e.conditions.FindActiveConditions(ctx, reading.SensorClass)
	if err != nil {
		return err
	}

	matches := e.collectMatches(reading, conditions)

	// Steady-state duplicates are suppressed but still count as
	// matches, so the device is not reset to NORMAL underneath a
	// continuing abnormal reading.
	fired := make([]conditionMatch, 0, len(matches))
	for _, m := range matches {
		if state.Status == m.condition.Severity {
			e.log.WithFields(logrus.Fields{
				"device_id": reading.DeviceID,
				"severity":  m.condition.Severity,
				"field_key": m.fieldKey,
			}).Debug("Match suppressed, device already at severity")
			continue
		}
		fired = append(fired, m)
	}

	// The cycle's status is the highest severity among its matches,
	// suppressed ones included
	top := models.SeverityNormal
	for _, m := range matches {
		if m.condition.Severity.Rank() > top.Rank() {
			top = m.condition.Severity
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)
	for _, m := range fired {
		m := m
		g.Go(func() error {
			event := e.buildEvent(state, reading, m)
			return e.sink.RecordAndNotify(gctx, event, m.condition.NotifyEnabled)
		})
	}
	// The join barrier: the status decision below must see every
	// match of this cycle.
	joinErr := g.Wait()

	if len(matches) == 0 {
		if state.Status != models.SeverityNormal {
			if err := e.states.SetStatus(ctx, reading.DeviceID, models.SeverityNormal); err != nil {
				return err
			}
		}
		return joinErr
	}

	if top.Rank() > 0 && top != state.Status {
		if err := e.states.SetStatus(ctx, reading.DeviceID, top); err != nil {
			return err
		}
	}

	return joinErr
}

// collectMatches tests every field of the reading against the active
// non-NORMAL conditions for its target. Malformed conditions are
// logged and skipped.
func (e *Evaluator) collectMatches(reading *models.Reading, conditions []*models.Condition) []conditionMatch {
	var matches []conditionMatch
	for fieldKey, value := range reading.Values {
		for _, condition := range conditions {
			if condition.FieldKey != fieldKey {
				continue
			}
			if condition.Severity.Rank() <= 0 {
				// NORMAL-level conditions describe the quiet band,
				// they never fire alerts
				continue
			}
			ok, err := matchCondition(condition, value)
			if err != nil {
				e.log.WithFields(logrus.Fields{
					"condition_id": condition.ID,
					"field_key":    fieldKey,
					"error":        err.Error(),
				}).Warn("Skipping malformed condition")
				continue
			}
			if ok {
				matches = append(matches, conditionMatch{
					condition: condition,
					fieldKey:  fieldKey,
					value:     value,
				})
			}
		}
	}
	return matches
}

// buildEvent snapshots a fired match into an immutable alert event
func (e *Evaluator) buildEvent(state *models.DeviceState, reading *models.Reading, m conditionMatch) *models.AlertEvent {
	event := &models.AlertEvent{
		UUID:        uuid.NewString(),
		DeviceID:    state.DeviceID,
		SiteID:      state.SiteID,
		SensorClass: state.SensorClass,
		FieldKey:    m.fieldKey,
		Value:       m.value,
		Severity:    m.condition.Severity,
		OccurredAt:  reading.Timestamp,
		Resolution:  models.ResolutionActive,
		Longitude:   state.Longitude,
		Latitude:    state.Latitude,
	}

	switch m.condition.Mode {
	case models.ConditionModeSingle:
		event.Threshold = m.condition.Threshold
	case models.ConditionModeRange:
		if min, max, err := m.condition.DerivedBounds(); err == nil {
			event.LowerBound = &min
			event.UpperBound = &max
		}
	}

	return event
}
