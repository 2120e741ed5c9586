package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
)

type OnCallHandler struct {
	Resolver *services.ScheduleResolver
	Clock    services.Clock
}

func NewOnCallHandler(resolver *services.ScheduleResolver, clock services.Clock) *OnCallHandler {
	return &OnCallHandler{Resolver: resolver, Clock: clock}
}

// GetEffectiveOnCall resolves who is on call for a scheduler or group,
// now or at the RFC3339 time given in ?at.
func (h *OnCallHandler) GetEffectiveOnCall(c *gin.Context) {
	at := h.Clock.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at must be an RFC3339 timestamp"})
			return
		}
		at = parsed.UTC()
	}

	shift, err := h.Resolver.EffectiveOnCall(c.Request.Context(), c.Param("ownerId"), at)
	if errors.Is(err, db.ErrNoOnCall) {
		c.JSON(http.StatusOK, gin.H{
			"on_call": nil,
			"at":      at,
			"message": "No one is on call",
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"on_call": shift,
		"at":      at,
	})
}
