package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
)

type RotationHandler struct {
	RotationService *services.RotationService
}

func NewRotationHandler(rotationService *services.RotationService) *RotationHandler {
	return &RotationHandler{
		RotationService: rotationService,
	}
}

// CreateRotationCycle creates a new automatic rotation cycle and its shifts
func (h *RotationHandler) CreateRotationCycle(c *gin.Context) {
	var req db.CreateRotationCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cycle, shifts, err := h.RotationService.CreateRotationCycle(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"rotation_cycle":   cycle,
		"shifts_generated": len(shifts),
		"shifts":           shifts,
	})
}

// PreviewRotation shows the periods a cycle would generate without storing it
func (h *RotationHandler) PreviewRotation(c *gin.Context) {
	var req db.CreateRotationCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	preview, err := h.RotationService.PreviewRotation(c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"preview": preview,
		"total":   len(preview),
	})
}

func (h *RotationHandler) GetCurrentRotationMember(c *gin.Context) {
	member, err := h.RotationService.GetCurrentRotationMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": member})
}

type extendRotationRequest struct {
	Periods int `json:"periods" binding:"required,min=1"`
}

// ExtendRotation generates further periods after the last stored one
func (h *RotationHandler) ExtendRotation(c *gin.Context) {
	var req extendRotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shifts, err := h.RotationService.ExtendRotation(c.Request.Context(), c.Param("id"), req.Periods)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"shifts_generated": len(shifts),
		"shifts":           shifts,
	})
}

// DeactivateRotationCycle stops a cycle and its future shifts. Shifts
// already running are kept.
func (h *RotationHandler) DeactivateRotationCycle(c *gin.Context) {
	deactivated, err := h.RotationService.DeactivateRotationCycle(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":            "Rotation cycle deactivated",
		"shifts_deactivated": deactivated,
	})
}
