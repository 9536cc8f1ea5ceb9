package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinicref/backend/internal/models"
	"github.com/clinicref/backend/internal/services/commission"
	"github.com/clinicref/backend/internal/services/lead"
)

// LeadHandler handles lead and conversion requests
type LeadHandler struct {
	leads      LeadService
	conversion ConversionService
}

// NewLeadHandler creates a new lead handler
func NewLeadHandler(leads LeadService, conversion ConversionService) *LeadHandler {
	return &LeadHandler{leads: leads, conversion: conversion}
}

// UpdateStatusRequest is the body of PATCH /leads/:id/status
type UpdateStatusRequest struct {
	Status models.LeadStatus `json:"status" binding:"required"`
	Reason string            `json:"reason"`
}

// ConvertRequest is the body of POST /leads/:id/convert. Omitted consultant,
// establishment and origin fields are taken from the stored lead.
type ConvertRequest struct {
	ConsultantID      *uuid.UUID        `json:"consultant_id"`
	EstablishmentCode string            `json:"establishment_code"`
	UnitsSold         int               `json:"units_sold" binding:"required"`
	OriginType        models.OriginType `json:"origin_type"`
	OriginLeadID      *uuid.UUID        `json:"origin_lead_id"`
	SplitPercentage   *float64          `json:"split_percentage"`
}

// CreateLead creates a lead
func (h *LeadHandler) CreateLead(c *gin.Context) {
	var req lead.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	created, err := h.leads.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetLead returns a lead
func (h *LeadHandler) GetLead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid lead ID")
		return
	}

	found, err := h.leads.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// ListLeads lists leads filtered by consultant, establishment and status
func (h *LeadHandler) ListLeads(c *gin.Context) {
	filter := lead.ListFilter{
		EstablishmentCode: c.Query("establishment_code"),
		Status:            models.LeadStatus(c.Query("status")),
	}
	if raw := c.Query("consultant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid consultant ID")
			return
		}
		filter.ConsultantID = id
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	leads, err := h.leads.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": leads})
}

// UpdateStatus moves a lead through the funnel
func (h *LeadHandler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid lead ID")
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	updated, err := h.leads.Transition(c.Request.Context(), id, req.Status, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ConvertLead converts a lead and records its commissions
func (h *LeadHandler) ConvertLead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid lead ID")
		return
	}
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	event := commission.ConversionEvent{
		LeadID:            id,
		EstablishmentCode: req.EstablishmentCode,
		UnitsSold:         req.UnitsSold,
		OriginType:        req.OriginType,
		OriginLeadID:      req.OriginLeadID,
		SplitPercentage:   req.SplitPercentage,
	}
	if req.ConsultantID != nil {
		event.ConsultantID = *req.ConsultantID
	}

	if event.ConsultantID == uuid.Nil || event.EstablishmentCode == "" || event.OriginType == "" {
		stored, err := h.leads.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		fillFromLead(&event, stored)
	}

	result, err := h.conversion.ProcessConversion(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func fillFromLead(event *commission.ConversionEvent, stored *models.Lead) {
	if event.ConsultantID == uuid.Nil {
		event.ConsultantID = stored.ConsultantID
	}
	if event.EstablishmentCode == "" {
		event.EstablishmentCode = stored.EstablishmentCode
	}
	if event.OriginType == "" {
		event.OriginType = stored.OriginType
		if stored.OriginType == models.OriginReferral && event.OriginLeadID == nil {
			event.OriginLeadID = stored.OriginLeadID
		}
	}
}
