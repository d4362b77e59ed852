package httpapi

import (
	"errors"
	"net/http"

	"callbridge/internal/calls"
	"callbridge/internal/credentials"
	"callbridge/internal/directory"
	"callbridge/internal/reporting"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Stable error kinds returned in the "error" field.
const (
	kindNotFound          = "not_found"
	kindForbidden         = "forbidden"
	kindInvalidTransition = "invalid_transition"
	kindValidation        = "validation_error"
	kindIssuance          = "issuance_error"
	kindInternal          = "internal_error"
)

// statusFor maps service errors onto the response status and kind.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, directory.ErrNotFound):
		return http.StatusNotFound, kindNotFound
	case errors.Is(err, calls.ErrForbidden):
		return http.StatusForbidden, kindForbidden
	case errors.Is(err, calls.ErrInvalidTransition):
		return http.StatusConflict, kindInvalidTransition
	case errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, directory.ErrInvalidArgument),
		errors.Is(err, directory.ErrNoDevice),
		errors.Is(err, credentials.ErrInvalidRole),
		errors.Is(err, credentials.ErrInvalidInput),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest, kindValidation
	case errors.Is(err, calls.ErrIssuance), errors.Is(err, credentials.ErrNotConfigured):
		return http.StatusInternalServerError, kindIssuance
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

func respondError(c *gin.Context, err error) {
	status, kind := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "kind", kind, "err", err)
		if kind == kindInternal {
			message = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": kind, "message": message})
}
