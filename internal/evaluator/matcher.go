package evaluator

import (
	"fmt"
	"math"

	"example.com/sitewatch/services/monitoring/internal/models"
)

// matchCondition reports whether a field value satisfies a condition.
// An error means the condition is malformed (missing bounds, unknown
// operator) and cannot match; the caller recovers locally so one bad
// condition never blocks the rest.
func matchCondition(condition *models.Condition, value float64) (bool, error) {
	switch condition.Mode {
	case models.ConditionModeBoolean:
		return matchBoolean(condition, value)
	case models.ConditionModeSingle:
		return matchSingle(condition, value)
	case models.ConditionModeRange:
		return matchRange(condition, value)
	default:
		return false, fmt.Errorf("condition %d has unknown mode %q", condition.ID, condition.Mode)
	}
}

// matchBoolean compares against the expected flag, tolerating booleans
// transported as 0.0/1.0 floats
func matchBoolean(condition *models.Condition, value float64) (bool, error) {
	if condition.ExpectedBool == nil {
		return false, models.ErrMissingBounds
	}
	expected := 0.0
	if *condition.ExpectedBool {
		expected = 1.0
	}
	return math.Abs(value-expected) < models.BooleanEpsilon, nil
}

// matchSingle compares against one threshold
func matchSingle(condition *models.Condition, value float64) (bool, error) {
	if condition.Threshold == nil {
		return false, models.ErrMissingBounds
	}
	switch condition.Operator {
	case models.OperatorGTE:
		return value >= *condition.Threshold, nil
	case models.OperatorLTE:
		return value <= *condition.Threshold, nil
	default:
		return false, fmt.Errorf("condition %d has unsupported operator %q for single mode", condition.ID, condition.Operator)
	}
}

// matchRange compares against the derived window. Center/tolerance
// classes invert the test: the condition fires when the value leaves
// the window, modeling "out of normal displacement range".
func matchRange(condition *models.Condition, value float64) (bool, error) {
	if condition.Operator != models.OperatorBetween {
		return false, fmt.Errorf("condition %d has unsupported operator %q for range mode", condition.ID, condition.Operator)
	}
	min, max, err := condition.DerivedBounds()
	if err != nil {
		return false, err
	}
	spec, ok := models.SensorClassSpecFor(condition.SensorClass)
	if ok && spec.CenterTolerance {
		return value <= min || value >= max, nil
	}
	return value >= min && value <= max, nil
}
