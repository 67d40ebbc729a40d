package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/geocoder89/tripadmin/internal/analysis"
	"github.com/geocoder89/tripadmin/internal/breaker"
	"github.com/geocoder89/tripadmin/internal/cache"
	"github.com/geocoder89/tripadmin/internal/console"
	"github.com/geocoder89/tripadmin/internal/directory"
	"github.com/geocoder89/tripadmin/internal/domain/user"
	"github.com/geocoder89/tripadmin/internal/messaging"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if s := ctx.GetString("request_id"); s != "" {
		return s
	}
	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

type statusCoder interface {
	StatusCode() int
}

func upstreamDetails(err error) interface{} {
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		return gin.H{"upstreamStatus": sc.StatusCode()}
	}
	return nil
}

// RespondServiceError maps console, directory and cache errors onto the API envelope.
func RespondServiceError(ctx *gin.Context, err error) {
	_ = ctx.Error(err)

	switch {
	case errors.Is(err, cache.ErrCacheEmpty):
		RespondConflict(ctx, "cache_empty", "No users loaded yet. Hydrate first.")
	case errors.Is(err, cache.ErrConflict):
		RespondConflict(ctx, "cache_conflict", "Cache is busy. Retry the request.")
	case errors.Is(err, console.ErrUserNotFound), errors.Is(err, directory.ErrUserNotFound):
		RespondNotFound(ctx, "User not found")
	case errors.Is(err, user.ErrUnknownFunnelStage):
		RespondBadRequest(ctx, "Unknown funnel stage", nil)
	case errors.Is(err, user.ErrUnknownJourneyStage):
		RespondBadRequest(ctx, "Unknown journey stage", gin.H{"allowed": user.JourneyStages})
	case errors.Is(err, user.ErrUnknownUserState):
		RespondBadRequest(ctx, "Unknown user state", nil)
	case errors.Is(err, user.ErrUnknownStageField):
		RespondBadRequest(ctx, "Unknown stage field", nil)
	case errors.Is(err, user.ErrUnknownFlag):
		RespondBadRequest(ctx, "Unknown user flag", gin.H{"allowed": user.Flags})
	case errors.Is(err, directory.ErrKeepTripRequired):
		RespondBadRequest(ctx, "keepTripId is required", nil)
	case errors.Is(err, messaging.ErrUnknownTemplate):
		RespondBadRequest(ctx, "Unknown message template", nil)
	case errors.Is(err, console.ErrAnalysisDisabled), errors.Is(err, analysis.ErrNotConfigured):
		RespondError(ctx, http.StatusNotImplemented, "not_configured", "User analysis is not configured", nil)
	case errors.Is(err, console.ErrMessagingDisabled):
		RespondError(ctx, http.StatusNotImplemented, "not_configured", "Messaging is not configured", nil)
	case errors.Is(err, breaker.ErrCircuitOpen):
		RespondError(ctx, http.StatusServiceUnavailable, "circuit_open", "Upstream temporarily disabled after repeated failures", nil)
	case errors.Is(err, directory.ErrDeleteFailed):
		RespondError(ctx, http.StatusBadGateway, "delete_failed", "Directory refused the delete", upstreamDetails(err))
	case errors.Is(err, directory.ErrDirectoryUnavailable):
		RespondError(ctx, http.StatusBadGateway, "directory_unavailable", "User directory is unavailable", upstreamDetails(err))
	case errors.Is(err, analysis.ErrAnalysisUnavailable):
		RespondError(ctx, http.StatusBadGateway, "analysis_unavailable", "Analysis service is unavailable", upstreamDetails(err))
	case errors.Is(err, context.DeadlineExceeded):
		RespondError(ctx, http.StatusGatewayTimeout, "timeout", "Request timed out", nil)
	default:
		RespondInternal(ctx, "Something went wrong")
	}
}
