package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func rangeCondition(class SensorClass, fieldKey string, lower, upper float64) *Condition {
	return &Condition{
		SensorClass: class,
		FieldKey:    fieldKey,
		Severity:    SeverityWarning,
		Mode:        ConditionModeRange,
		Operator:    OperatorBetween,
		LowerBound:  f(lower),
		UpperBound:  f(upper),
		Active:      true,
	}
}

func TestSeverityRank(t *testing.T) {
	require.Equal(t, 0, SeverityNormal.Rank())
	require.Equal(t, 1, SeverityWarning.Rank())
	require.Equal(t, 2, SeverityCaution.Rank())
	require.Equal(t, 3, SeverityDanger.Rank())

	// DISCONNECTED is not on the alerting scale
	require.Equal(t, -1, SeverityDisconnected.Rank())
	require.True(t, SeverityDisconnected.Valid())
	require.False(t, Severity("BOGUS").Valid())
}

func TestDerivedBoundsPlainRange(t *testing.T) {
	c := rangeCondition(SensorClassEnvironment, FieldTemperature, 10, 30)

	min, max, err := c.DerivedBounds()
	require.NoError(t, err)
	require.Equal(t, 10.0, min)
	require.Equal(t, 30.0, max)
}

func TestDerivedBoundsCenterTolerance(t *testing.T) {
	// Displacement stores center and half-width, not raw bounds
	c := rangeCondition(SensorClassDisplacement, FieldDisplacement, 100, 5)

	min, max, err := c.DerivedBounds()
	require.NoError(t, err)
	require.Equal(t, 95.0, min)
	require.Equal(t, 105.0, max)
}

func TestDerivedBoundsMissing(t *testing.T) {
	c := rangeCondition(SensorClassEnvironment, FieldTemperature, 10, 30)
	c.UpperBound = nil

	_, _, err := c.DerivedBounds()
	require.ErrorIs(t, err, ErrMissingBounds)
}

func TestHasOverlap(t *testing.T) {
	tests := []struct {
		name    string
		a, b    *Condition
		overlap bool
	}{
		{
			name:    "disjoint windows",
			a:       rangeCondition(SensorClassEnvironment, FieldTemperature, 10, 20),
			b:       rangeCondition(SensorClassEnvironment, FieldTemperature, 25, 30),
			overlap: false,
		},
		{
			name:    "touching edges overlap",
			a:       rangeCondition(SensorClassEnvironment, FieldTemperature, 10, 20),
			b:       rangeCondition(SensorClassEnvironment, FieldTemperature, 20, 30),
			overlap: true,
		},
		{
			name:    "nested windows overlap",
			a:       rangeCondition(SensorClassEnvironment, FieldTemperature, 10, 40),
			b:       rangeCondition(SensorClassEnvironment, FieldTemperature, 15, 20),
			overlap: true,
		},
		{
			name:    "different field keys never overlap",
			a:       rangeCondition(SensorClassEnvironment, FieldTemperature, 10, 20),
			b:       rangeCondition(SensorClassEnvironment, FieldHumidity, 10, 20),
			overlap: false,
		},
		{
			name:    "different classes never overlap",
			a:       rangeCondition(SensorClassEnvironment, FieldTemperature, 10, 20),
			b:       rangeCondition(SensorClassFire, FieldTemperature, 10, 20),
			overlap: false,
		},
		{
			name: "center tolerance windows compared on derived bounds",
			// 100 +/- 5 and 108 +/- 5 share [103, 105]
			a:       rangeCondition(SensorClassDisplacement, FieldDisplacement, 100, 5),
			b:       rangeCondition(SensorClassDisplacement, FieldDisplacement, 108, 5),
			overlap: true,
		},
		{
			name:    "center tolerance windows apart",
			a:       rangeCondition(SensorClassDisplacement, FieldDisplacement, 100, 5),
			b:       rangeCondition(SensorClassDisplacement, FieldDisplacement, 120, 5),
			overlap: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HasOverlap(tt.a, tt.b)
			require.NoError(t, err)
			require.Equal(t, tt.overlap, got)
		})
	}
}

func TestHasOverlapIgnoresNonRange(t *testing.T) {
	single := &Condition{
		SensorClass: SensorClassEnvironment,
		FieldKey:    FieldTemperature,
		Mode:        ConditionModeSingle,
		Operator:    OperatorGTE,
		Threshold:   f(35),
	}
	r := rangeCondition(SensorClassEnvironment, FieldTemperature, 10, 40)

	got, err := HasOverlap(single, r)
	require.NoError(t, err)
	require.False(t, got)
}

func TestSensorClassSpecFor(t *testing.T) {
	spec, ok := SensorClassSpecFor(SensorClassDisplacement)
	require.True(t, ok)
	require.True(t, spec.CenterTolerance)

	spec, ok = SensorClassSpecFor(SensorClassEnvironment)
	require.True(t, ok)
	require.False(t, spec.CenterTolerance)

	_, ok = SensorClassSpecFor(SensorClass("submarine"))
	require.False(t, ok)
}
