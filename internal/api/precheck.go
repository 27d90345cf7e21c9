package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

type recordRequest struct {
	Action  domain.CandidateAction `json:"action"`
	Outcome domain.Outcome         `json:"outcome"`
}

type duplicationRequest struct {
	ActionType domain.ActionType `json:"actionType"`
	TargetID   string            `json:"targetId"`
	DeviceID   string            `json:"deviceId"`
	Outcome    domain.Outcome    `json:"outcome,omitempty"`
}

func (s *Server) precheck(c *gin.Context) {
	var action domain.CandidateAction
	if err := c.ShouldBindJSON(&action); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	if err := action.Validate(); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Prechecker.Evaluate(c.Request.Context(), action))
}

func (s *Server) recordAction(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	if err := s.deps.Prechecker.Record(c.Request.Context(), req.Action, req.Outcome); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) checkDuplication(c *gin.Context) {
	var req duplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	verdict, err := s.deps.Prechecker.CheckDuplication(c.Request.Context(), req.ActionType, req.TargetID, req.DeviceID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func (s *Server) recordDuplication(c *gin.Context) {
	var req duplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, badRequest{err})
		return
	}
	outcome := req.Outcome
	if outcome == "" {
		outcome = domain.OutcomeSuccess
	}
	err := s.deps.Prechecker.RecordDuplicationAction(c.Request.Context(), req.ActionType, req.TargetID, req.DeviceID, outcome)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
