package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
)

type OverrideHandler struct {
	OverrideService *services.OverrideService
}

func NewOverrideHandler(overrideService *services.OverrideService) *OverrideHandler {
	return &OverrideHandler{
		OverrideService: overrideService,
	}
}

// CreateOverride hands a shift, or part of it, to another user
func (h *OverrideHandler) CreateOverride(c *gin.Context) {
	var req db.CreateScheduleOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	override, err := h.OverrideService.CreateOverride(c.Request.Context(), req, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"override": override,
		"message":  "Override created successfully",
	})
}

func (h *OverrideHandler) ListGroupOverrides(c *gin.Context) {
	overrides, err := h.OverrideService.ListOverrides(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"overrides": overrides,
		"total":     len(overrides),
	})
}

func (h *OverrideHandler) DeleteOverride(c *gin.Context) {
	if err := h.OverrideService.DeleteOverride(c.Request.Context(), c.Param("overrideId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Override removed successfully"})
}
