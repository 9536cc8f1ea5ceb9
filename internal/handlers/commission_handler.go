package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinicref/backend/internal/models"
	"github.com/clinicref/backend/internal/services/commission"
	"github.com/clinicref/backend/internal/services/ledger"
)

// CommissionHandler handles commission ledger queries and previews
type CommissionHandler struct {
	queries    CommissionQueries
	conversion ConversionService
}

// NewCommissionHandler creates a new commission handler
func NewCommissionHandler(queries CommissionQueries, conversion ConversionService) *CommissionHandler {
	return &CommissionHandler{queries: queries, conversion: conversion}
}

// PreviewRequest is the body of POST /commissions/preview
type PreviewRequest struct {
	ConsultantID      uuid.UUID  `json:"consultant_id" binding:"required"`
	EstablishmentCode string     `json:"establishment_code" binding:"required"`
	UnitsSold         int        `json:"units_sold" binding:"required"`
	LeadID            *uuid.UUID `json:"lead_id"`
}

// PreviewResponse is what a conversion would pay right now
type PreviewResponse struct {
	Consultant      *commission.ConsultantCommission `json:"consultant"`
	ConsultantTotal float64                          `json:"consultant_total"`
	Manager         *commission.ManagerCommission    `json:"manager,omitempty"`
	ManagerTotal    *float64                         `json:"manager_total,omitempty"`
}

// ListCommissions lists commission records
func (h *CommissionHandler) ListCommissions(c *gin.Context) {
	filter := ledger.CommissionFilter{
		EstablishmentCode: c.Query("establishment_code"),
		Status:            models.CommissionStatus(c.Query("status")),
		Kind:              models.CommissionKind(c.Query("kind")),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		badRequest(c, "invalid status")
		return
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		badRequest(c, "invalid kind")
		return
	}

	var ok bool
	if filter.BeneficiaryID, ok = optionalUUID(c, "beneficiary_id"); !ok {
		return
	}
	if filter.LeadID, ok = optionalUUID(c, "lead_id"); !ok {
		return
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	records, total, err := h.queries.ListCommissions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records, "total": total})
}

// Summary totals a beneficiary's commissions by status
func (h *CommissionHandler) Summary(c *gin.Context) {
	beneficiaryID, err := uuid.Parse(c.Query("beneficiary_id"))
	if err != nil {
		badRequest(c, "beneficiary_id is required")
		return
	}

	summaries, err := h.queries.SummarizeCommissions(c.Request.Context(), beneficiaryID)
	if err != nil {
		respondError(c, err)
		return
	}

	var total float64
	for _, s := range summaries {
		if s.Status != models.CommissionStatusCancelled {
			total += s.TotalAmount
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"beneficiary_id": beneficiaryID,
		"by_status":      summaries,
		"total_amount":   models.RoundMoney(total),
	})
}

// Preview prices a conversion without recording it
func (h *CommissionHandler) Preview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	event := commission.ConversionEvent{
		ConsultantID:      req.ConsultantID,
		EstablishmentCode: req.EstablishmentCode,
		UnitsSold:         req.UnitsSold,
	}
	if req.LeadID != nil {
		event.LeadID = *req.LeadID
	}

	consultant, manager, err := h.conversion.Preview(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := PreviewResponse{
		Consultant:      consultant,
		ConsultantTotal: consultant.Total(),
		Manager:         manager,
	}
	if manager != nil {
		total := manager.Total()
		resp.ManagerTotal = &total
	}
	c.JSON(http.StatusOK, resp)
}

// optionalUUID parses query param key, writing a 400 when it is present but malformed
func optionalUUID(c *gin.Context, key string) (uuid.UUID, bool) {
	raw := c.Query(key)
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(c, "invalid "+key)
		return uuid.Nil, false
	}
	return id, true
}
