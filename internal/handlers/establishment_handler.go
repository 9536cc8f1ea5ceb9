package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinicref/backend/internal/models"
	"github.com/clinicref/backend/internal/services/commission"
)

// EstablishmentHandler exposes establishment commission configuration
type EstablishmentHandler struct {
	reader ConfigReader
	writer ConfigWriter
}

// NewEstablishmentHandler creates a new establishment handler
func NewEstablishmentHandler(reader ConfigReader, writer ConfigWriter) *EstablishmentHandler {
	return &EstablishmentHandler{reader: reader, writer: writer}
}

// ConfigRequest is the body of PUT /establishments/:code/commission-config
type ConfigRequest struct {
	ConsultantUnitRate      float64 `json:"consultant_unit_rate"`
	ConsultantBonusInterval int     `json:"consultant_bonus_interval"`
	ConsultantBonusValue    float64 `json:"consultant_bonus_value"`
	ConsultantBonusEnabled  *bool   `json:"consultant_bonus_enabled"`
	Milestone35Value        float64 `json:"milestone_35_value"`
	Milestone50Value        float64 `json:"milestone_50_value"`
	Milestone75Value        float64 `json:"milestone_75_value"`
	ManagerBonusEnabled     *bool   `json:"manager_bonus_enabled"`
}

// GetCommissionConfig returns the effective config with its milestones
func (h *EstablishmentHandler) GetCommissionConfig(c *gin.Context) {
	cfg, err := h.reader.EffectiveConfig(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, commission.ErrInvalidConfig) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"config":     cfg,
		"milestones": cfg.Milestones(),
	})
}

// PutCommissionConfig stores an establishment's config
func (h *EstablishmentHandler) PutCommissionConfig(c *gin.Context) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	cfg := &models.EstablishmentCommissionConfig{
		EstablishmentCode:       c.Param("code"),
		ConsultantUnitRate:      req.ConsultantUnitRate,
		ConsultantBonusInterval: req.ConsultantBonusInterval,
		ConsultantBonusValue:    req.ConsultantBonusValue,
		ConsultantBonusEnabled:  req.ConsultantBonusEnabled == nil || *req.ConsultantBonusEnabled,
		Milestone35Value:        req.Milestone35Value,
		Milestone50Value:        req.Milestone50Value,
		Milestone75Value:        req.Milestone75Value,
		ManagerBonusEnabled:     req.ManagerBonusEnabled == nil || *req.ManagerBonusEnabled,
	}
	if err := h.writer.SaveConfig(c.Request.Context(), cfg); err != nil {
		if errors.Is(err, commission.ErrInvalidConfig) {
			badRequest(c, err.Error())
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
