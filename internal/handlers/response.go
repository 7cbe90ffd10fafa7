package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veloria-ai/fmcore/internal/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondAppError maps an error's kind onto an HTTP status so handlers
// do not each reinvent the mapping.
func RespondAppError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindUnauthorized:
		status = http.StatusForbidden
	case apperr.KindTransient:
		status = http.StatusServiceUnavailable
	}
	RespondError(c, status, apperr.CodeOf(err), err)
}
