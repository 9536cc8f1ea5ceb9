package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TeamHandler handles manager team requests
type TeamHandler struct {
	teams TeamService
}

// NewTeamHandler creates a new team handler
func NewTeamHandler(teams TeamService) *TeamHandler {
	return &TeamHandler{teams: teams}
}

// GetTeam lists the consultants managed by a manager
func (h *TeamHandler) GetTeam(c *gin.Context) {
	managerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid manager ID")
		return
	}

	team, err := h.teams.TeamOf(c.Request.Context(), managerID)
	if err != nil {
		respondError(c, err)
		return
	}
	if team == nil {
		team = []uuid.UUID{}
	}
	c.JSON(http.StatusOK, gin.H{"manager_id": managerID, "consultant_ids": team})
}

// AssignConsultant places a consultant on a manager's team
func (h *TeamHandler) AssignConsultant(c *gin.Context) {
	managerID, consultantID, ok := teamParams(c)
	if !ok {
		return
	}

	membership, err := h.teams.Assign(c.Request.Context(), managerID, consultantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, membership)
}

// RemoveConsultant takes a consultant off a manager's team
func (h *TeamHandler) RemoveConsultant(c *gin.Context) {
	managerID, consultantID, ok := teamParams(c)
	if !ok {
		return
	}

	if err := h.teams.Unassign(c.Request.Context(), managerID, consultantID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func teamParams(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	managerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid manager ID")
		return uuid.Nil, uuid.Nil, false
	}
	consultantID, err := uuid.Parse(c.Param("consultantId"))
	if err != nil {
		badRequest(c, "invalid consultant ID")
		return uuid.Nil, uuid.Nil, false
	}
	return managerID, consultantID, true
}
