package routes

import (
	"errors"
	"net/http"

	"school-copilot/internal/ai"
	"school-copilot/internal/logger"
	"school-copilot/middleware"
	"school-copilot/services"
	"school-copilot/utils"

	"github.com/gin-gonic/gin"
)

// respondError maps a service error onto the standard error response
func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrAccessDenied):
		utils.RespondWithForbidden(c, services.AccessDeniedMessage)
	case errors.Is(err, services.ErrForbidden):
		utils.RespondWithForbidden(c, err.Error())
	case errors.Is(err, services.ErrNotFound):
		utils.RespondWithNotFound(c, err.Error())
	case errors.Is(err, services.ErrQuotaExceeded):
		utils.RespondWithQuotaExceeded(c, "Daily question limit reached")
	case errors.Is(err, services.ErrBlockedTerm),
		errors.Is(err, services.ErrInvalidQuery),
		errors.Is(err, services.ErrUnsupportedFileType):
		utils.RespondWithBadRequest(c, err.Error(), nil)
	case errors.Is(err, ai.ErrEmbedderUnavailable), errors.Is(err, ai.ErrModelUnavailable):
		utils.RespondWithUnavailable(c, "Embedding service is unavailable, try again later")
	default:
		logger.Error(fallback, "error", err, "request_id", middleware.GetRequestID(c))
		utils.RespondWithError(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
