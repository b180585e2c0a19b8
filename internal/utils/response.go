package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// APIResponse is the envelope every JSON endpoint answers with
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

var errorCodes = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusConflict:            "CONFLICT",
	http.StatusTooManyRequests:     "RATE_LIMIT_EXCEEDED",
	http.StatusInternalServerError: "INTERNAL_ERROR",
	http.StatusServiceUnavailable:  "SERVICE_UNAVAILABLE",
}

func SuccessResponse(c *gin.Context, data interface{}) {
	writeSuccess(c, "", data)
}

func SuccessResponseWithMessage(c *gin.Context, message string, data interface{}) {
	writeSuccess(c, message, data)
}

func ErrorResponse(c *gin.Context, statusCode int, message string) {
	writeError(c, statusCode, errorCode(statusCode), message, nil)
}

func ErrorResponseWithDetails(c *gin.Context, statusCode int, message string, details map[string]string) {
	writeError(c, statusCode, errorCode(statusCode), message, details)
}

// ValidationErrorResponse answers 400 with one message per offending field
func ValidationErrorResponse(c *gin.Context, fields map[string]string) {
	writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", fields)
}

func NotFoundResponse(c *gin.Context, message string) {
	if message == "" {
		message = "Resource not found"
	}
	ErrorResponse(c, http.StatusNotFound, message)
}

func InternalErrorResponse(c *gin.Context, message string) {
	if message == "" {
		message = "Internal server error"
	}
	ErrorResponse(c, http.StatusInternalServerError, message)
}

func writeSuccess(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func writeError(c *gin.Context, statusCode int, code, message string, details map[string]string) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now(),
	})
}

func errorCode(statusCode int) string {
	if code, ok := errorCodes[statusCode]; ok {
		return code
	}
	return "UNKNOWN_ERROR"
}
