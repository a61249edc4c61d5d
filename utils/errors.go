package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes returned in ErrorResponse.ErrorCode
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeQuota        = "quota_exceeded"
	CodeUnavailable  = "service_unavailable"
	CodeInternal     = "internal_error"
)

var codeStatus = map[string]int{
	CodeBadRequest:   http.StatusBadRequest,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeForbidden:    http.StatusForbidden,
	CodeNotFound:     http.StatusNotFound,
	CodeQuota:        http.StatusTooManyRequests,
	CodeUnavailable:  http.StatusServiceUnavailable,
	CodeInternal:     http.StatusInternalServerError,
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
}

// RespondWithError writes the error body and aborts the handler chain so
// guards can return right after calling it.
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details any) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

func respond(c *gin.Context, code, message string, details any) {
	RespondWithError(c, codeStatus[code], code, message, details)
}

func RespondWithBadRequest(c *gin.Context, message string, details any) {
	respond(c, CodeBadRequest, message, details)
}

func RespondWithUnauthorized(c *gin.Context, message string) {
	respond(c, CodeUnauthorized, message, nil)
}

// RespondWithForbidden is also used for unknown classes so callers cannot
// probe which class ids exist
func RespondWithForbidden(c *gin.Context, message string) {
	respond(c, CodeForbidden, message, nil)
}

func RespondWithNotFound(c *gin.Context, message string) {
	respond(c, CodeNotFound, message, nil)
}

// RespondWithQuotaExceeded is distinct from 403 so clients can tell a used
// up daily limit from missing access
func RespondWithQuotaExceeded(c *gin.Context, message string) {
	respond(c, CodeQuota, message, nil)
}

func RespondWithUnavailable(c *gin.Context, message string) {
	respond(c, CodeUnavailable, message, nil)
}

func RespondWithInternalError(c *gin.Context, message string, details any) {
	respond(c, CodeInternal, message, details)
}
