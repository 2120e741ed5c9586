package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/phonginreallife/oncall/db"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrInvalidPolicy),
		errors.Is(err, db.ErrInvalidRotation),
		errors.Is(err, db.ErrInvalidOverride),
		errors.Is(err, db.ErrInvalidCondition),
		errors.Is(err, db.ErrNoEscalationPolicy):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrEscalationActive), errors.Is(err, db.ErrAlertExists), errors.Is(err, db.ErrDuplicate),
		errors.Is(err, db.ErrAlertResolved):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
