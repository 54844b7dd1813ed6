package routes

import (
	"example.com/sitewatch/services/monitoring/api/handlers"
	"example.com/sitewatch/services/monitoring/internal/repository"
	"example.com/sitewatch/services/monitoring/internal/service"
	"example.com/sitewatch/services/monitoring/internal/sessions"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes sets up all the routes for the server
func SetupRoutes(
	r *gin.Engine,
	svc service.Service,
	processor *service.ReadingProcessor,
	repo repository.Repository,
	sessionDir sessions.Directory,
	log *logrus.Logger,
) {
	// Health check
	r.GET("/health", handlers.HealthCheck)

	// API routes
	api := r.Group("/api/v1")

	// Reading ingestion
	readingHandler := handlers.NewReadingHandler(processor, log)
	readings := api.Group("/readings")
	{
		readings.POST("", readingHandler.ReceiveReading)
		readings.POST("/batch", readingHandler.ReceiveBatchReadings)
		readings.GET("/stats/processor", readingHandler.GetProcessorStats)
	}

	// Condition management
	conditionHandler := handlers.NewConditionHandler(svc, log)
	conditions := api.Group("/conditions")
	{
		conditions.POST("", conditionHandler.CreateCondition)
		conditions.POST("/batch", conditionHandler.CreateBatchConditions)
		conditions.GET("", conditionHandler.ListConditions)
		conditions.DELETE("", conditionHandler.DeleteConditionsByClass)
		conditions.DELETE("/:id", conditionHandler.DeleteCondition)
	}

	// Device state and alert history
	deviceHandler := handlers.NewDeviceHandler(svc, repo, log)
	devices := api.Group("/devices")
	{
		devices.GET("", deviceHandler.ListDevices)
		devices.GET("/:id", deviceHandler.GetDevice)
		devices.GET("/:id/alerts", deviceHandler.GetDeviceAlerts)
	}

	// Operator push sessions, maintained by the auth gateway
	sessionHandler := handlers.NewSessionHandler(sessionDir, log)
	operators := api.Group("/operators")
	{
		operators.POST("/:id/sessions", sessionHandler.RegisterSession)
		operators.DELETE("/:id/sessions", sessionHandler.RemoveSession)
	}
}
