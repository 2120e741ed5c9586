package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
)

type AlertHandler struct {
	Pipeline   *services.AlertPipeline
	Escalation *services.EscalationService
	Routing    *services.RoutingService
	Logger     *zap.Logger
}

func NewAlertHandler(pipeline *services.AlertPipeline, escalation *services.EscalationService, routing *services.RoutingService, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{
		Pipeline:   pipeline,
		Escalation: escalation,
		Routing:    routing,
		Logger:     logger.Named("alert-handler"),
	}
}

// IngestAlert routes a normalized alert and starts its escalation. When the
// alert was stored but routing or escalation failed, the response is 202
// with the error alongside the stored alert.
func (h *AlertHandler) IngestAlert(c *gin.Context) {
	var alert db.Alert
	if err := c.ShouldBindJSON(&alert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if alert.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Alert title is required"})
		return
	}

	result, err := h.Pipeline.Ingest(c.Request.Context(), alert)
	if err != nil {
		if result == nil {
			respondError(c, err)
			return
		}
		h.Logger.Warn("alert stored with pipeline error",
			zap.String("alert_id", result.Alert.ID),
			zap.Error(err))
		c.JSON(http.StatusAccepted, gin.H{
			"alert":     result.Alert,
			"routing":   result.Routing,
			"escalated": false,
			"error":     err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, result)
}

type processEscalationRequest struct {
	PolicyID string `json:"policy_id"`
}

// ProcessEscalation starts escalation of a stored alert, optionally with an
// explicit policy.
func (h *AlertHandler) ProcessEscalation(c *gin.Context) {
	var req processEscalationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	alertID := c.Param("id")
	if err := h.Escalation.ProcessAlertByID(c.Request.Context(), alertID, req.PolicyID); err != nil {
		respondError(c, err)
		return
	}
	h.respondWithAlert(c, alertID, "Escalation started")
}

func (h *AlertHandler) AcknowledgeAlert(c *gin.Context) {
	userID := actorID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	alertID := c.Param("id")
	if err := h.Escalation.Acknowledge(c.Request.Context(), alertID, userID); err != nil {
		respondError(c, err)
		return
	}
	h.respondWithAlert(c, alertID, "Alert acknowledged")
}

func (h *AlertHandler) StopEscalation(c *gin.Context) {
	alertID := c.Param("id")
	if err := h.Escalation.Stop(c.Request.Context(), alertID); err != nil {
		respondError(c, err)
		return
	}
	h.respondWithAlert(c, alertID, "Escalation stopped")
}

func (h *AlertHandler) RetriggerEscalation(c *gin.Context) {
	alertID := c.Param("id")
	if err := h.Escalation.Retrigger(c.Request.Context(), alertID); err != nil {
		respondError(c, err)
		return
	}
	h.respondWithAlert(c, alertID, "Escalation restarted")
}

func (h *AlertHandler) GetAlert(c *gin.Context) {
	alert, err := h.Escalation.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// CloseAlert resolves an alert and ends its escalation. Closing twice is
// not an error.
func (h *AlertHandler) CloseAlert(c *gin.Context) {
	userID := actorID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	alertID := c.Param("id")
	if err := h.Escalation.Resolve(c.Request.Context(), alertID, userID); err != nil {
		respondError(c, err)
		return
	}
	h.respondWithAlert(c, alertID, "Alert closed")
}

// GetEscalationHistory lists every level attempt of an alert.
func (h *AlertHandler) GetEscalationHistory(c *gin.Context) {
	escalations, err := h.Escalation.GetAlertEscalations(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"escalations": escalations,
		"total":       len(escalations),
	})
}

func (h *AlertHandler) GetRoutingHistory(c *gin.Context) {
	logs, err := h.Routing.GetRoutingHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"route_logs": logs,
		"total":      len(logs),
	})
}

func (h *AlertHandler) respondWithAlert(c *gin.Context, alertID, message string) {
	alert, err := h.Escalation.Store.GetAlert(c.Request.Context(), alertID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"message": message})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": message,
		"alert":   alert,
	})
}
