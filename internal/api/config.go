package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eliteGoblin/dupguard/internal/config"
	"github.com/eliteGoblin/dupguard/internal/domain"
)

var errEmptyBody = errors.New("request body is required")

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Policy.Current())
}

// updateConfig replaces the policy. Omitted keys take their defaults.
func (s *Server) updateConfig(c *gin.Context) {
	cfg := domain.DefaultDuplicationConfig()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			err = errEmptyBody
		}
		s.writeError(c, badRequest{err})
		return
	}
	if err := config.Validate(cfg); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	if err := s.deps.Policy.Update(cfg); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Policy.Current())
}

func (s *Server) reloadConfig(c *gin.Context) {
	changed, err := s.deps.Policy.Reload()
	if err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}
