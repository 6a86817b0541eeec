package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is the canonical JSON error envelope returned by the API.
type Error struct {
	Code    string         `json:"error"`
	Message string         `json:"message"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: code, Message: message, Status: status}
}

func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	cp := make(map[string]any, len(details))
	for k, v := range details {
		cp[k] = v
	}
	e.Details = cp
	return e
}

// WriteError writes the envelope, attaching the request id set by the
// RequestID middleware.
func WriteError(c *gin.Context, e Error) {
	payload := gin.H{
		"error":   e.Code,
		"message": e.Message,
		"status":  e.Status,
	}
	if rid := c.GetString("rid"); rid != "" {
		payload["request_id"] = rid
	}
	for k, v := range e.Details {
		payload[k] = v
	}
	c.AbortWithStatusJSON(e.Status, payload)
}
