package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) listRules(c *gin.Context) {
	rules, err := s.deps.Rules.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if rules == nil {
		rules = []domain.DuplicationRule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (s *Server) createRule(c *gin.Context) {
	var rule domain.DuplicationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	ctx := c.Request.Context()
	id, err := s.deps.Rules.Create(ctx, rule)
	if err != nil {
		s.writeError(c, err)
		return
	}
	created, err := s.deps.Rules.Get(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getRule(c *gin.Context) {
	rule, err := s.deps.Rules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) updateRule(c *gin.Context) {
	var patch domain.RulePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	rule, err := s.deps.Rules.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) deleteRule(c *gin.Context) {
	if err := s.deps.Rules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setRuleEnabled(c *gin.Context) {
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	if req.Enabled == nil {
		s.writeError(c, badRequest{errors.New("enabled is required")})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.deps.Rules.SetEnabled(ctx, id, *req.Enabled); err != nil {
		s.writeError(c, err)
		return
	}
	rule, err := s.deps.Rules.Get(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}
