package models

// SensorClass identifies a family of field sensors sharing field keys
// and matching semantics
type SensorClass string

const (
	// SensorClassEnvironment covers combined temperature/humidity sensors
	SensorClassEnvironment SensorClass = "environment"
	// SensorClassFire covers flame/smoke detectors
	SensorClassFire SensorClass = "fire"
	// SensorClassDisplacement covers structural displacement gauges
	SensorClassDisplacement SensorClass = "displacement"
)

// Well-known field keys per sensor class
const (
	FieldTemperature  = "temperature"
	FieldHumidity     = "humidity"
	FieldFlameDetect  = "flame_detect"
	FieldDisplacement = "displacement"
)

// SensorClassSpec describes the evaluation behavior of a sensor class.
// A single evaluator is parameterized by these descriptors instead of
// one implementation per device type.
type SensorClassSpec struct {
	Class       SensorClass
	Measurement string // measurement name in the time-series store
	ObjectKey   string // object key on the upstream telemetry platform
	FieldKeys   []string
	// CenterTolerance marks classes whose range bounds are stored as
	// (center, tolerance) and expanded to (center-tolerance,
	// center+tolerance). For these classes a range condition fires
	// when the value falls OUTSIDE the derived window - the sensor
	// alerts on leaving its normal band, not on entering one.
	CenterTolerance bool
}

var sensorClassSpecs = map[SensorClass]SensorClassSpec{
	SensorClassEnvironment: {
		Class:       SensorClassEnvironment,
		Measurement: "environment",
		ObjectKey:   "env-sensor",
		FieldKeys:   []string{FieldTemperature, FieldHumidity},
	},
	SensorClassFire: {
		Class:       SensorClassFire,
		Measurement: "fire",
		ObjectKey:   "fire-sensor",
		FieldKeys:   []string{FieldFlameDetect},
	},
	SensorClassDisplacement: {
		Class:           SensorClassDisplacement,
		Measurement:     "displacement",
		ObjectKey:       "displacement-sensor",
		FieldKeys:       []string{FieldDisplacement},
		CenterTolerance: true,
	},
}

// SensorClassSpecFor returns the descriptor for a class
func SensorClassSpecFor(class SensorClass) (SensorClassSpec, bool) {
	spec, ok := sensorClassSpecs[class]
	return spec, ok
}

// KnownSensorClasses lists all registered classes
func KnownSensorClasses() []SensorClass {
	classes := make([]SensorClass, 0, len(sensorClassSpecs))
	for class := range sensorClassSpecs {
		classes = append(classes, class)
	}
	return classes
}
