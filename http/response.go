package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jabberwocky238/bindzone/internal/types"
)

// Response is the unified JSON response structure for all API endpoints.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK sends a 200 response with code 0 and the given data.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

// Fail sends an error response with the given HTTP status and message.
func Fail(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, Response{Code: httpStatus, Message: message})
}

// FailErr sends an error response whose status and reason follow the error
// chain.
func FailErr(c *gin.Context, err error) {
	reason := types.Reason(err)
	status := statusFor(reason)
	c.JSON(status, Response{Code: status, Message: err.Error(), Reason: reason})
}

func statusFor(reason string) int {
	switch reason {
	case types.ReasonMalformedRequest, types.ReasonInvalidDomain, types.ReasonInvalidIP:
		return http.StatusBadRequest
	case types.ReasonNotFound, types.ReasonUnknownZone:
		return http.StatusNotFound
	case types.ReasonDuplicateRecord, types.ReasonSerialOverflow:
		return http.StatusConflict
	case types.ReasonZoneCheckFailed:
		return http.StatusUnprocessableEntity
	case types.ReasonReloadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
