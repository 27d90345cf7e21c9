package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eliteGoblin/dupguard/internal/domain"
	"github.com/eliteGoblin/dupguard/internal/usecase"
)

// checkQuery binds GET /v1/checks parameters. Times are RFC3339.
type checkQuery struct {
	RuleID     string              `form:"ruleId"`
	TargetID   string              `form:"targetId"`
	DeviceID   string              `form:"deviceId"`
	ActionType domain.ActionType   `form:"actionType"`
	Result     domain.CheckResult  `form:"result"`
	Since      time.Time           `form:"since"`
	Until      time.Time           `form:"until"`
	Format     domain.ExportFormat `form:"format"`
	domain.Page
}

func (q checkQuery) filter() domain.CheckFilter {
	return domain.CheckFilter{
		RuleID:     q.RuleID,
		TargetID:   q.TargetID,
		DeviceID:   q.DeviceID,
		ActionType: q.ActionType,
		Result:     q.Result,
		Since:      q.Since,
		Until:      q.Until,
		Page:       q.Page,
	}
}

type eventQuery struct {
	RuleID     string           `form:"ruleId"`
	TargetID   string           `form:"targetId"`
	Type       domain.EventType `form:"type"`
	Unresolved bool             `form:"unresolved"`
	Since      time.Time        `form:"since"`
	Until      time.Time        `form:"until"`
	domain.Page
}

func (s *Server) listChecks(c *gin.Context) {
	var q checkQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	checks, total, err := s.deps.Audit.ListChecks(c.Request.Context(), q.filter())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if checks == nil {
		checks = []domain.DuplicationCheck{}
	}
	c.JSON(http.StatusOK, gin.H{
		"checks":   checks,
		"total":    total,
		"page":     q.Page.Page,
		"pageSize": q.Page.PageSize,
	})
}

func (s *Server) exportChecks(c *gin.Context) {
	var q checkQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	format := q.Format
	if format == "" {
		format = s.deps.Policy.Current().DataRetention.ExportFormat
	}
	if format == "" {
		format = domain.ExportJSON
	}
	if !format.Valid() {
		s.writeError(c, badRequest{fmt.Errorf("unknown export format %q", format)})
		return
	}

	checks, err := usecase.CollectChecks(c.Request.Context(), s.deps.Audit, q.filter())
	if err != nil {
		s.writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := s.deps.Exporter.Export(&buf, checks, format); err != nil {
		s.writeError(c, err)
		return
	}

	mime, ext := s.deps.Exporter.ContentType(format)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="checks.%s"`, ext))
	c.Data(http.StatusOK, mime, buf.Bytes())
}

func (s *Server) listEvents(c *gin.Context) {
	var q eventQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	events, total, err := s.deps.Audit.ListEvents(c.Request.Context(), domain.EventFilter{
		RuleID:     q.RuleID,
		TargetID:   q.TargetID,
		Type:       q.Type,
		Unresolved: q.Unresolved,
		Since:      q.Since,
		Until:      q.Until,
		Page:       q.Page,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if events == nil {
		events = []domain.DuplicationEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events":   events,
		"total":    total,
		"page":     q.Page.Page,
		"pageSize": q.Page.PageSize,
	})
}

func (s *Server) resolveEvent(c *gin.Context) {
	var resolution domain.EventResolution
	if err := c.ShouldBindJSON(&resolution); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	if !resolution.Type.Valid() {
		s.writeError(c, badRequest{fmt.Errorf("unknown resolution type %q", resolution.Type)})
		return
	}
	if err := s.deps.Audit.ResolveEvent(c.Request.Context(), c.Param("id"), resolution); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getHistory(c *gin.Context) {
	target := c.Param("target")
	history, err := s.deps.Audit.History(c.Request.Context(), target)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no history for target %s", target)})
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) purgeHistory(c *gin.Context) {
	if err := s.deps.Audit.PurgeTarget(c.Request.Context(), c.Param("target")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
