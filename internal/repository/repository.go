package repository

import (
	"context"
	"errors"

	"example.com/sitewatch/services/monitoring/internal/database"
	"example.com/sitewatch/services/monitoring/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Repository provides data access methods for the monitoring core
type Repository interface {
	// Condition operations
	CreateCondition(ctx context.Context, condition *models.Condition) error
	DeleteCondition(ctx context.Context, id uint) error
	DeleteConditionsBySensorClass(ctx context.Context, class models.SensorClass) error
	FindConditionByID(ctx context.Context, id uint) (*models.Condition, error)
	FindActiveConditions(ctx context.Context, class models.SensorClass) ([]*models.Condition, error)
	ListConditions(ctx context.Context, class models.SensorClass) ([]*models.Condition, error)

	// DeviceState operations
	FindDeviceState(ctx context.Context, deviceID string) (*models.DeviceState, error)
	ListDeviceStates(ctx context.Context) ([]*models.DeviceState, error)
	UpdateDeviceStatus(ctx context.Context, deviceID string, status models.Severity) error
	UpdateDeviceLocation(ctx context.Context, deviceID string, longitude, latitude float64) error

	// AlertEvent operations
	AppendAlertEvent(ctx context.Context, event *models.AlertEvent) error
	ListAlertEvents(ctx context.Context, deviceID string, limit int) ([]*models.AlertEvent, error)

	// Site access operations
	ListOperatorIDsWithSiteAccess(ctx context.Context, siteID uint) ([]uint, error)
}

// repo is an implementation of the Repository interface
type repo struct {
	db database.DB
}

// NewRepository creates a new repository instance
func NewRepository(db database.DB) Repository {
	return &repo{
		db: db,
	}
}

func (r *repo) gormDB(ctx context.Context) (*gorm.DB, error) {
	db, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	return db.WithContext(ctx), nil
}

// CreateCondition persists a new alert condition
func (r *repo) CreateCondition(ctx context.Context, condition *models.Condition) error {
	db, err := r.gormDB(ctx)
	if err != nil {
		return err
	}
	return db.Create(condition).Error
}

// DeleteCondition removes a condition by id
func (r *repo) DeleteCondition(ctx context.Context, id uint) error {
	db, err := r.gormDB(ctx)
	if err != nil {
		return err
	}
	result := db.Delete(&models.Condition{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConditionsBySensorClass removes every condition for a class
func (r *repo) DeleteConditionsBySensorClass(ctx context.Context, class models.SensorClass) error {
	db, err := r.gormDB(ctx)
	if err != nil {
		return err
	}
	return db.Where("sensor_class = ?", class).Delete(&models.Condition{}).Error
}

// FindConditionByID loads a single condition
func (r *repo) FindConditionByID(ctx context.Context, id uint) (*models.Condition, error) {
	db, err := r.gormDB(ctx)
	if err != nil {
		return nil, err
	}
	var condition models.Condition
	if err := db.First(&condition, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &condition, nil
}

// FindActiveConditions loads the active conditions for a sensor class
func (r *repo) FindActiveConditions(ctx context.Context, class models.SensorClass) ([]*models.Condition, error) {
	db, err := r.gormDB(ctx)
	if err != nil {
		return nil, err
	}
	var conditions []*models.Condition
	if err := db.Where("sensor_class = ? AND active = ?", class, true).Find(&conditions).Error; err != nil {
		return nil, err
	}
	return conditions, nil
}

// ListConditions loads all conditions, optionally filtered by class
func (r *repo) ListConditions(ctx context.Context, class models.SensorClass) ([]*models.Condition, error) {
	db, err := r.gormDB(ctx)
	if err != nil {
		return nil, err
	}
	query := db.Model(&models.Condition{})
	if class != "" {
		query = query.Where("sensor_class = ?", class)
	}
	var conditions []*models.Condition
	if err := query.Order("id").Find(&conditions).Error; err != nil {
		return nil, err
	}
	return conditions, nil
}

// FindDeviceState loads the state record for a device
func (r *repo) FindDeviceState(ctx context.Context, deviceID string) (*models.DeviceState, error) {
	db, err := r.gormDB(ctx)
	if err != nil {
		return nil, err
	}
	var state models.DeviceState
	if err := db.Where("device_id = ?", deviceID).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &state, nil
}

// ListDeviceStates loads every registered device state
func (r *repo) ListDeviceStates(ctx context.Context) ([]*models.DeviceState, error) {
	db, err := r.gormDB(ctx)
	if err != nil {
		return nil, err
	}
	var states []*models.DeviceState
	if err := db.Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

// UpdateDeviceStatus durably persists a device's alert status
func (r *repo) UpdateDeviceStatus(ctx context.Context, deviceID string, status models.Severity) error {
	db, err := r.gormDB(ctx)
	if err != nil {
		return err
	}
	result := db.Model(&models.DeviceState{}).
		Where("device_id = ?", deviceID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDeviceLocation persists the last reported coordinates
func (r *repo) UpdateDeviceLocation(ctx context.Context, deviceID string, longitude, latitude float64) error {
	db, err := r.gormDB(ctx)
	if err != nil {
		return err
	}
	result := db.Model(&models.DeviceState{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"longitude": longitude,
			"latitude":  latitude,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAlertEvent persists a new alert event
func (r *repo) AppendAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	db, err := r.gormDB(ctx)
	if err != nil {
		return err
	}
	return db.Create(event).Error
}

// ListAlertEvents loads recent events for a device
func (r *repo) ListAlertEvents(ctx context.Context, deviceID string, limit int) ([]*models.AlertEvent, error) {
	db, err := r.gormDB(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	var events []*models.AlertEvent
	if err := db.Where("device_id = ?", deviceID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ListOperatorIDsWithSiteAccess returns the ids of active operators
// authorized for a site
func (r *repo) ListOperatorIDsWithSiteAccess(ctx context.Context, siteID uint) ([]uint, error) {
	db, err := r.gormDB(ctx)
	if err != nil {
		return nil, err
	}
	var ids []uint
	err = db.Model(&models.Operator{}).
		Joins("JOIN operator_sites ON operator_sites.operator_id = operators.id").
		Where("operator_sites.site_id = ? AND operators.active = ?", siteID, true).
		Pluck("operators.id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
