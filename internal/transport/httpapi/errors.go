package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"appointly/backend/internal/calendarsync"
	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type errorBody struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Code: code, Message: message})
}

func badRequest(c *gin.Context, message string) {
	writeError(c, http.StatusBadRequest, "invalid_request", message)
}

// respondError maps a service error to its HTTP status and logs it at the
// level its kind deserves.
func respondError(c *gin.Context, log *slog.Logger, op string, err error) {
	log = log.With(slog.String("op", op), slog.String("request_id", requestID(c)))

	var vErr *domain.ValidationError
	var extErr *calendarsync.ExternalServiceError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", slog.Any("err", err))
		writeError(c, http.StatusBadRequest, "validation_error", vErr.Error())
	case errors.Is(err, store.ErrConflict):
		log.Info("overlap conflict", slog.Any("err", err))
		writeError(c, http.StatusConflict, "overlap_conflict", "The requested time overlaps another appointment. Pick a different slot.")
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info("idempotency conflict", slog.Any("err", err))
		writeError(c, http.StatusConflict, "idempotency_conflict", "This request key was already used for a different appointment.")
	case errors.Is(err, domain.ErrInvalidTransition):
		log.Info("invalid transition", slog.Any("err", err))
		writeError(c, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, store.ErrNotFound):
		log.Info("not found", slog.Any("err", err))
		writeError(c, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrPermissionDenied):
		log.Warn("permission denied", slog.Any("err", err))
		writeError(c, http.StatusForbidden, "permission_denied", "You are not allowed to do this.")
	case errors.Is(err, calendarsync.ErrInvalidState):
		log.Warn("oauth state rejected", slog.Any("err", err))
		writeError(c, http.StatusBadRequest, "invalid_oauth_state", "The authorization link expired. Start again.")
	case errors.Is(err, calendarsync.ErrNotConnected):
		log.Info("calendar not connected", slog.Any("err", err))
		writeError(c, http.StatusNotFound, "calendar_not_connected", "No active calendar connection.")
	case errors.Is(err, calendarsync.ErrNotConfigured):
		log.Error("calendar sync not configured")
		writeError(c, http.StatusInternalServerError, "calendar_not_configured", "Calendar integration is not configured.")
	case errors.As(err, &extErr):
		log.Error("external service failed", slog.Any("err", err))
		writeError(c, http.StatusBadGateway, "external_service_error", "The calendar provider did not respond. Try again later.")
	default:
		log.Error("request failed", slog.Any("err", err))
		writeError(c, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
