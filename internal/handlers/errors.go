package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"aquasync/internal/service"

	"github.com/gin-gonic/gin"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = 5

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, service.ErrStaleAck):
		return http.StatusConflict
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidAction),
		errors.Is(err, service.ErrInvalidPeriod),
		errors.Is(err, service.ErrInvalidCategory),
		errors.Is(err, service.ErrInvalidTimeRange),
		errors.Is(err, service.ErrInvalidSignUp):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidOwnerCode),
		errors.Is(err, service.ErrUnknownContact):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidPassword),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized
	case service.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes the JSON error for err. Retryable failures tell the caller to come back.
func (h *Handler) writeServiceError(c *gin.Context, logKey string, err error, kv ...interface{}) {
	code := statusFor(err)
	msg := err.Error()
	switch {
	case code == http.StatusServiceUnavailable:
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		msg = "store unavailable, try again"
	case code == http.StatusInternalServerError:
		msg = "internal error"
	}
	if code >= http.StatusInternalServerError {
		fields := append([]interface{}{"err", err, "status", code}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(code, gin.H{"error": msg})
}
