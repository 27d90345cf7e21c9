package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// badRequest marks request errors found before reaching a store.
type badRequest struct {
	err error
}

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br), domain.IsInvalidRule(err), errors.Is(err, domain.ErrInvalidAction):
		return http.StatusBadRequest
	case domain.IsRuleNotFound(err), errors.Is(err, domain.ErrEventNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
