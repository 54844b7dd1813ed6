package models

import (
	"errors"
	"fmt"
)

// ConditionMode selects how a condition's bounds are interpreted
type ConditionMode string

const (
	// ConditionModeSingle compares the value against one threshold
	ConditionModeSingle ConditionMode = "single"
	// ConditionModeRange compares the value against a pair of bounds
	ConditionModeRange ConditionMode = "range"
	// ConditionModeBoolean compares the value against an expected flag
	ConditionModeBoolean ConditionMode = "boolean"
)

// ConditionOperator is the comparison applied by a condition
type ConditionOperator string

const (
	OperatorGTE     ConditionOperator = "gte"
	OperatorLTE     ConditionOperator = "lte"
	OperatorBetween ConditionOperator = "between"
)

// ErrMissingBounds is returned when a condition lacks the values its
// mode requires
var ErrMissingBounds = errors.New("condition is missing bounds for its mode")

// BooleanEpsilon tolerates booleans transported as 0.0/1.0 floats
const BooleanEpsilon = 0.001

// Condition model is an operator-defined alert rule for one
// (sensor class, field key) target. Created and edited by the
// external CRUD layer; read-only to the evaluation pipeline.
type Condition struct {
	Model
	SensorClass   SensorClass       `json:"sensor_class" gorm:"index:idx_conditions_target;Column:sensor_class"`
	FieldKey      string            `json:"field_key" gorm:"index:idx_conditions_target;Column:field_key"`
	Severity      Severity          `json:"severity" gorm:"Column:severity"`
	Mode          ConditionMode     `json:"mode" gorm:"Column:mode"`
	Operator      ConditionOperator `json:"operator" gorm:"Column:operator"`
	Threshold     *float64          `json:"threshold,omitempty" gorm:"Column:threshold"`
	LowerBound    *float64          `json:"lower_bound,omitempty" gorm:"Column:lower_bound"`
	UpperBound    *float64          `json:"upper_bound,omitempty" gorm:"Column:upper_bound"`
	ExpectedBool  *bool             `json:"expected_bool,omitempty" gorm:"Column:expected_bool"`
	Active        bool              `json:"active" gorm:"Column:active"`
	NotifyEnabled bool              `json:"notify_enabled" gorm:"Column:notify_enabled"`
}

// SameTarget reports whether two conditions address the same
// (sensor class, field key) pair
func (c *Condition) SameTarget(other *Condition) bool {
	return c.SensorClass == other.SensorClass && c.FieldKey == other.FieldKey
}

// DerivedBounds returns the effective (min, max) window of a range
// condition. For center/tolerance classes the stored bounds are the
// window center and half-width.
func (c *Condition) DerivedBounds() (float64, float64, error) {
	if c.Mode != ConditionModeRange {
		return 0, 0, fmt.Errorf("condition %d is not a range condition", c.ID)
	}
	if c.LowerBound == nil || c.UpperBound == nil {
		return 0, 0, ErrMissingBounds
	}
	spec, ok := SensorClassSpecFor(c.SensorClass)
	if ok && spec.CenterTolerance {
		center, tolerance := *c.LowerBound, *c.UpperBound
		return center - tolerance, center + tolerance, nil
	}
	return *c.LowerBound, *c.UpperBound, nil
}

// HasOverlap reports whether two range conditions for the same target
// share any point of their derived windows. Used at creation time to
// reject ambiguous configurations; non-range pairs never overlap.
func HasOverlap(a, b *Condition) (bool, error) {
	if a.Mode != ConditionModeRange || b.Mode != ConditionModeRange {
		return false, nil
	}
	if !a.SameTarget(b) {
		return false, nil
	}
	aMin, aMax, err := a.DerivedBounds()
	if err != nil {
		return false, err
	}
	bMin, bMax, err := b.DerivedBounds()
	if err != nil {
		return false, err
	}
	return aMin <= bMax && bMin <= aMax, nil
}
