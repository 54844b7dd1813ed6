package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"example.com/sitewatch/services/monitoring/internal/models"
	"example.com/sitewatch/services/monitoring/internal/repository"
	"example.com/sitewatch/services/monitoring/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ConditionHandler handles alert condition management
type ConditionHandler struct {
	service service.Service
	log     *logrus.Logger
}

// NewConditionHandler creates a new ConditionHandler instance
func NewConditionHandler(svc service.Service, log *logrus.Logger) *ConditionHandler {
	return &ConditionHandler{
		service: svc,
		log:     log,
	}
}

// CreateCondition creates a single condition
func (h *ConditionHandler) CreateCondition(c *gin.Context) {
	var condition models.Condition
	if err := c.ShouldBindJSON(&condition); err != nil {
		h.log.WithError(err).Warn("Invalid condition format")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid condition format",
		})
		return
	}

	if err := h.service.CreateConditions(c, []*models.Condition{&condition}); err != nil {
		h.respondCreateError(c, err)
		return
	}

	c.JSON(http.StatusCreated, condition)
}

// CreateBatchConditions creates a batch of conditions atomically
// validated: one overlap rejects the whole batch
func (h *ConditionHandler) CreateBatchConditions(c *gin.Context) {
	var conditions []*models.Condition
	if err := c.ShouldBindJSON(&conditions); err != nil {
		h.log.WithError(err).Warn("Invalid batch format")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid batch format",
		})
		return
	}

	if err := h.service.CreateConditions(c, conditions); err != nil {
		h.respondCreateError(c, err)
		return
	}

	c.JSON(http.StatusCreated, conditions)
}

func (h *ConditionHandler) respondCreateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrOverlappingConditions):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": err.Error(),
		})
	case errors.Is(err, service.ErrUnknownSensorClass),
		errors.Is(err, models.ErrMissingBounds):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
	default:
		h.log.WithError(err).Error("Failed to create condition")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create condition",
		})
	}
}

// ListConditions lists conditions, optionally filtered by sensor class
func (h *ConditionHandler) ListConditions(c *gin.Context) {
	class := models.SensorClass(c.Query("sensor_class"))

	conditions, err := h.service.ListConditions(c, class)
	if err != nil {
		h.log.WithError(err).Error("Failed to list conditions")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list conditions",
		})
		return
	}

	c.JSON(http.StatusOK, conditions)
}

// DeleteConditionsByClass removes every condition for a sensor class
func (h *ConditionHandler) DeleteConditionsByClass(c *gin.Context) {
	class := models.SensorClass(c.Query("sensor_class"))
	if class == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "sensor_class query parameter is required",
		})
		return
	}

	if err := h.service.DeleteConditionsBySensorClass(c, class); err != nil {
		if errors.Is(err, service.ErrUnknownSensorClass) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		h.log.WithError(err).Error("Failed to delete conditions for class")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete conditions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "deleted",
	})
}

// DeleteCondition removes a condition
func (h *ConditionHandler) DeleteCondition(c *gin.Context) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid condition ID",
		})
		return
	}

	if err := h.service.DeleteCondition(c, uint(id)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Condition not found",
			})
			return
		}
		h.log.WithError(err).Error("Failed to delete condition")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete condition",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "deleted",
	})
}
