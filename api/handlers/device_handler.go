package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"example.com/sitewatch/services/monitoring/internal/repository"
	"example.com/sitewatch/services/monitoring/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DeviceHandler serves device state and alert history
type DeviceHandler struct {
	service service.Service
	repo    repository.Repository
	log     *logrus.Logger
}

// NewDeviceHandler creates a new DeviceHandler instance
func NewDeviceHandler(svc service.Service, repo repository.Repository, log *logrus.Logger) *DeviceHandler {
	return &DeviceHandler{
		service: svc,
		repo:    repo,
		log:     log,
	}
}

// GetDevice returns the persisted state for one device
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	deviceID := c.Param("id")

	state, err := h.repo.FindDeviceState(c, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Device not found",
			})
			return
		}
		h.log.WithError(err).Error("Failed to get device state")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get device state",
		})
		return
	}

	c.JSON(http.StatusOK, state)
}

// ListDevices lists all registered device states
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	states, err := h.repo.ListDeviceStates(c)
	if err != nil {
		h.log.WithError(err).Error("Failed to list device states")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list device states",
		})
		return
	}

	c.JSON(http.StatusOK, states)
}

// GetDeviceAlerts returns recent alert events for a device
func (h *DeviceHandler) GetDeviceAlerts(c *gin.Context) {
	deviceID := c.Param("id")

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit",
			})
			return
		}
		limit = parsed
	}

	events, err := h.service.ListAlertEvents(c, deviceID, limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to list alert events")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list alert events",
		})
		return
	}

	c.JSON(http.StatusOK, events)
}
