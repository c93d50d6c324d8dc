package handlers

import (
	"net/http"

	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

// APIError is the body of every non-2xx response, wrapped as {"error": ...}.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code, message string, details any) {
	rid := c.GetString(middlewares.CtxRequestID)
	if rid == "" {
		rid = c.GetHeader("X-Request-Id")
	}

	c.JSON(status, errorEnvelope{Error: APIError{
		Code:      code,
		Message:   message,
		RequestID: rid,
		Details:   details,
	}})
}

func RespondBadRequest(c *gin.Context, message string, details any) {
	RespondError(c, http.StatusBadRequest, "invalid_request", message, details)
}

// RespondUnAuthorized keeps messages generic; callers pick the code.
func RespondUnAuthorized(c *gin.Context, code, message string) {
	RespondError(c, http.StatusUnauthorized, code, message, nil)
}

func RespondForbidden(c *gin.Context, code, message string) {
	RespondError(c, http.StatusForbidden, code, message, nil)
}

func RespondNotFound(c *gin.Context, message string) {
	RespondError(c, http.StatusNotFound, "not_found", message, nil)
}

func RespondConflict(c *gin.Context, code, message string) {
	RespondError(c, http.StatusConflict, code, message, nil)
}

func RespondInternal(c *gin.Context, message string) {
	RespondError(c, http.StatusInternalServerError, "internal_error", message, nil)
}
