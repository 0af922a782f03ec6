package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"papertrade/internal/service"
)

// apiResponse is the envelope of every endpoint. Code is 0 on success and
// the HTTP status otherwise.
type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

// Error writes a failure envelope. The request id, when set, is copied into
// meta so a client report can be matched to the access log.
func Error(c *gin.Context, status int, message string, meta map[string]any) {
	if id := c.GetString("request_id"); id != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["request_id"] = id
	}
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// serviceError maps account service errors onto HTTP statuses.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrInvalidInput):
		Error(c, http.StatusBadRequest, err.Error(), nil)
	default:
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}
