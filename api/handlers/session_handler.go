package handlers

import (
	"net/http"
	"strconv"

	"example.com/sitewatch/services/monitoring/internal/sessions"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionHandler manages operator push session registration. The
// authentication gateway calls these on login and logout so alert
// fan-out knows where to deliver.
type SessionHandler struct {
	sessions sessions.Directory
	log      *logrus.Logger
}

// NewSessionHandler creates a new SessionHandler instance
func NewSessionHandler(dir sessions.Directory, log *logrus.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: dir,
		log:      log,
	}
}

type sessionRequest struct {
	Handle string `json:"handle" binding:"required"`
}

func operatorIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid operator ID",
		})
		return 0, false
	}
	return uint(id), true
}

// RegisterSession adds a push session handle for an operator
func (h *SessionHandler) RegisterSession(c *gin.Context) {
	operatorID, ok := operatorIDParam(c)
	if !ok {
		return
	}

	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Session handle is required",
		})
		return
	}

	if err := h.sessions.RegisterSession(c, operatorID, req.Handle); err != nil {
		h.log.WithError(err).Error("Failed to register session")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to register session",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "registered",
	})
}

// RemoveSession drops a push session handle for an operator
func (h *SessionHandler) RemoveSession(c *gin.Context) {
	operatorID, ok := operatorIDParam(c)
	if !ok {
		return
	}

	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Session handle is required",
		})
		return
	}

	if err := h.sessions.RemoveSession(c, operatorID, req.Handle); err != nil {
		h.log.WithError(err).Error("Failed to remove session")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to remove session",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "removed",
	})
}
