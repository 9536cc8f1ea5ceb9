package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clinicref/backend/internal/logging"
	"github.com/clinicref/backend/internal/services/commission"
	"github.com/clinicref/backend/internal/services/hierarchy"
	"github.com/clinicref/backend/internal/services/lead"
)

// statusFor maps a service error to an HTTP status
func statusFor(err error) int {
	switch {
	case commission.IsNotFound(err), errors.Is(err, hierarchy.ErrNotAssigned):
		return http.StatusNotFound
	case errors.Is(err, commission.ErrConversionProcessed),
		errors.Is(err, commission.ErrLeadAlreadyConverted),
		errors.Is(err, commission.ErrInvalidTransition):
		return http.StatusConflict
	case commission.IsValidation(err),
		errors.Is(err, lead.ErrInvalidLead),
		errors.Is(err, hierarchy.ErrInvalidAssignment):
		return http.StatusBadRequest
	case errors.Is(err, commission.ErrInvalidConfig):
		// the request is fine but the establishment's stored parameters are not
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Internal errors are logged and hidden from the client.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(c.Request.Context()).Error("request failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}
