package models

import (
	"time"

	"gorm.io/gorm"
)

// Model is the base model with common fields for all database entities
type Model struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// Severity is the alert level assigned to a condition or device.
// WARNING, CAUTION and DANGER form the ordered alerting scale;
// DISCONNECTED is the orthogonal liveness state and takes part in
// no threshold comparison.
type Severity string

const (
	SeverityNormal       Severity = "NORMAL"
	SeverityWarning      Severity = "WARNING"
	SeverityCaution      Severity = "CAUTION"
	SeverityDanger       Severity = "DANGER"
	SeverityDisconnected Severity = "DISCONNECTED"
)

// severityRanks orders the alerting severities. DISCONNECTED is
// deliberately absent.
var severityRanks = map[Severity]int{
	SeverityNormal:  0,
	SeverityWarning: 1,
	SeverityCaution: 2,
	SeverityDanger:  3,
}

// Rank returns the position of s on the alerting scale, or -1 for
// severities outside it.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	return s.Rank() >= 0 || s == SeverityDisconnected
}

// ResolutionStatus tracks the handling state of an alert event
type ResolutionStatus string

const (
	ResolutionActive     ResolutionStatus = "active"
	ResolutionInProgress ResolutionStatus = "in_progress"
	ResolutionResolved   ResolutionStatus = "resolved"
)

// Site model represents a monitored location
type Site struct {
	Model
	Name   string `json:"name" gorm:"Column:name"`
	Code   string `json:"code" gorm:"uniqueIndex;Column:code"`
	Active bool   `json:"active" gorm:"Column:active"`
}

// Operator model represents a user who can receive alerts for the
// sites they have access to. Accounts and permissions are managed by
// the external directory; this service only reads the mapping.
type Operator struct {
	Model
	Email  string  `json:"email" gorm:"uniqueIndex;Column:email"`
	Name   string  `json:"name" gorm:"Column:name"`
	Active bool    `json:"active" gorm:"Column:active"`
	Sites  []*Site `json:"sites,omitempty" gorm:"many2many:operator_sites"`
}

// DeviceState model holds the last known state of a physical sensor.
// One row per device. The status column is mutated only by the
// evaluation pipeline; location by the ingestion path. Rows are never
// deleted here - device lifecycle is owned by registration CRUD.
type DeviceState struct {
	Model
	DeviceID        string      `json:"device_id" gorm:"uniqueIndex;Column:device_id"`
	SensorClass     SensorClass `json:"sensor_class" gorm:"Column:sensor_class"`
	Site            *Site       `json:"site,omitempty" gorm:"foreignKey:SiteID"`
	SiteID          uint        `json:"site_id" gorm:"Column:site_id"`
	Longitude       float64     `json:"longitude" gorm:"Column:longitude"`
	Latitude        float64     `json:"latitude" gorm:"Column:latitude"`
	Status          Severity    `json:"status" gorm:"Column:status"`
	ReportingPeriod int         `json:"reporting_period" gorm:"Column:reporting_period"` // seconds
}

// AlertEvent model records a condition firing. Immutable once
// created except for the resolution status, which is advanced by
// external action-taking workflows.
type AlertEvent struct {
	UUID        string           `json:"uuid" gorm:"primary_key"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	DeviceID    string           `json:"device_id" gorm:"index;Column:device_id"`
	SiteID      uint             `json:"site_id" gorm:"index;Column:site_id"`
	SensorClass SensorClass      `json:"sensor_class" gorm:"Column:sensor_class"`
	FieldKey    string           `json:"field_key" gorm:"Column:field_key"`
	Value       float64          `json:"value" gorm:"Column:value"`
	Threshold   *float64         `json:"threshold,omitempty" gorm:"Column:threshold"`
	LowerBound  *float64         `json:"lower_bound,omitempty" gorm:"Column:lower_bound"`
	UpperBound  *float64         `json:"upper_bound,omitempty" gorm:"Column:upper_bound"`
	Severity    Severity         `json:"severity" gorm:"Column:severity"`
	OccurredAt  time.Time        `json:"occurred_at" gorm:"Column:occurred_at"`
	Resolution  ResolutionStatus `json:"resolution" gorm:"Column:resolution"`
	// Geo coordinates snapshotted from the device state at fire time
	Longitude float64 `json:"longitude" gorm:"Column:longitude"`
	Latitude  float64 `json:"latitude" gorm:"Column:latitude"`
}

// Reading is a single transmission from a field sensor. Readings are
// not persisted as-is; values flow into the time-series store and
// through condition evaluation.
type Reading struct {
	DeviceID    string             `json:"device_id"`
	SensorClass SensorClass        `json:"sensor_class"`
	Values      map[string]float64 `json:"values"`
	Longitude   *float64           `json:"longitude,omitempty"`
	Latitude    *float64           `json:"latitude,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}
