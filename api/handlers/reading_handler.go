package handlers

import (
	"net/http"

	"example.com/sitewatch/services/monitoring/internal/models"
	"example.com/sitewatch/services/monitoring/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ReadingHandler handles sensor reading ingestion over HTTP. The bulk
// of traffic arrives via the message queue; this endpoint serves
// direct integrations and testing.
type ReadingHandler struct {
	processor *service.ReadingProcessor
	log       *logrus.Logger
}

// NewReadingHandler creates a new ReadingHandler instance
func NewReadingHandler(processor *service.ReadingProcessor, log *logrus.Logger) *ReadingHandler {
	return &ReadingHandler{
		processor: processor,
		log:       log,
	}
}

// ReceiveReading accepts one reading and queues it for processing
func (h *ReadingHandler) ReceiveReading(c *gin.Context) {
	var reading models.Reading
	if err := c.ShouldBindJSON(&reading); err != nil {
		h.log.WithError(err).Warn("Invalid reading format")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid reading format",
		})
		return
	}

	if reading.DeviceID == "" || len(reading.Values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Reading requires device_id and values",
		})
		return
	}

	if err := h.processor.EnqueueReading(&reading); err != nil {
		h.log.WithError(err).Error("Failed to queue reading")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Reading queue is full",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "queued",
	})
}

// ReceiveBatchReadings accepts a batch of readings and queues each one
func (h *ReadingHandler) ReceiveBatchReadings(c *gin.Context) {
	var readings []models.Reading
	if err := c.ShouldBindJSON(&readings); err != nil {
		h.log.WithError(err).Warn("Invalid batch format")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid batch format",
		})
		return
	}

	queued := 0
	for i := range readings {
		if readings[i].DeviceID == "" || len(readings[i].Values) == 0 {
			continue
		}
		if err := h.processor.EnqueueReading(&readings[i]); err != nil {
			h.log.WithError(err).Error("Failed to queue reading from batch")
			break
		}
		queued++
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "queued",
		"received": len(readings),
		"queued":   queued,
	})
}

// GetProcessorStats exposes queue depth for operations
func (h *ReadingHandler) GetProcessorStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.processor.QueueStats())
}
