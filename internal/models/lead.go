package models

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus is the position of a lead in the sales funnel
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusScheduled LeadStatus = "scheduled"
	LeadStatusConverted LeadStatus = "converted"
	LeadStatusLost      LeadStatus = "lost"
)

// OriginType tells whether a lead came straight from a consultant or from a converted customer
type OriginType string

const (
	OriginDirect   OriginType = "direct"
	OriginReferral OriginType = "referral"
)

// leadTransitions lists the forward moves allowed from each non-terminal status.
// Any non-terminal status may also move to lost.
var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusNew:       {LeadStatusContacted, LeadStatusScheduled, LeadStatusConverted},
	LeadStatusContacted: {LeadStatusScheduled, LeadStatusConverted},
	LeadStatusScheduled: {LeadStatusConverted},
}

// Lead represents a prospective patient handled by a consultant
type Lead struct {
	Base
	ConsultantID      uuid.UUID  `gorm:"type:uuid;not null;index:idx_leads_consultant_est_status,priority:1" json:"consultant_id"`
	EstablishmentCode string     `gorm:"type:varchar(64);not null;index:idx_leads_consultant_est_status,priority:2" json:"establishment_code"`
	Status            LeadStatus `gorm:"type:varchar(20);not null;default:'new';index:idx_leads_consultant_est_status,priority:3" json:"status"`
	CustomerName      string     `gorm:"type:varchar(255)" json:"customer_name"`
	CustomerPhone     string     `gorm:"type:varchar(32)" json:"customer_phone"`
	OriginType        OriginType `gorm:"type:varchar(20);not null;default:'direct'" json:"origin_type"`
	OriginLeadID      *uuid.UUID `gorm:"type:uuid;index" json:"origin_lead_id,omitempty"`
	UnitsSold         int        `gorm:"not null;default:0" json:"units_sold"`
	ConvertedAt       *time.Time `json:"converted_at,omitempty"`
	LostReason        string     `gorm:"type:varchar(255)" json:"lost_reason,omitempty"`
}

// IsTerminal reports whether the lead can no longer change status
func (s LeadStatus) IsTerminal() bool {
	return s == LeadStatusConverted || s == LeadStatusLost
}

// IsValid reports whether s is a known status
func (s LeadStatus) IsValid() bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusScheduled, LeadStatusConverted, LeadStatusLost:
		return true
	}
	return false
}

// CanTransitionTo reports whether a lead in status s may move to next
func (s LeadStatus) CanTransitionTo(next LeadStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == LeadStatusLost {
		return true
	}
	for _, allowed := range leadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
