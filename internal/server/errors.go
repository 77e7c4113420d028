package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/types"
)

const internalErrorMessage = "Internal server error"

// ErrorResponse is the envelope every failure is rendered with.
type ErrorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	Detail     string `json:"detail,omitempty"`
}

// errorResponse maps err to a status and envelope. Client errors pass their
// message through; translation failures carry the engine message in detail;
// anything else is reported as a generic internal error.
func errorResponse(err error) (int, ErrorResponse) {
	appErr, ok := types.AsAppError(err)
	if !ok {
		return http.StatusInternalServerError, ErrorResponse{
			Error:      internalErrorMessage,
			StatusCode: http.StatusInternalServerError,
			Detail:     err.Error(),
		}
	}

	status := appErr.HTTPStatus()
	switch {
	case appErr.Code == types.ErrTranslationFailed:
		return status, ErrorResponse{
			Error:      "Translation failed: " + appErr.Details,
			StatusCode: status,
			Detail:     appErr.Details,
		}
	case appErr.IsClientError(), appErr.Code == types.ErrServiceBusy:
		return status, ErrorResponse{Error: appErr.Message, StatusCode: status}
	default:
		return http.StatusInternalServerError, ErrorResponse{
			Error:      internalErrorMessage,
			StatusCode: http.StatusInternalServerError,
			Detail:     appErr.Error(),
		}
	}
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	log := s.requestLogger(c)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", err, logger.Int("status", status))
	} else {
		log.Warn("request rejected", logger.Int("status", status), logger.Err(err))
	}
	c.AbortWithStatusJSON(status, body)
}

// recovery renders panics with the generic envelope and keeps the process up.
func (s *Server) recovery(c *gin.Context, recovered any) {
	err := fmt.Errorf("%v", recovered)
	s.requestLogger(c).Error("panic while handling request", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error:      internalErrorMessage,
		StatusCode: http.StatusInternalServerError,
		Detail:     err.Error(),
	})
}

// statusEnvelope renders a routing failure with the standard status text.
func statusEnvelope(status int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.AbortWithStatusJSON(status, ErrorResponse{
			Error:      http.StatusText(status),
			StatusCode: status,
		})
	}
}
