package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CommissionKind identifies why a commission record was paid out
type CommissionKind string

const (
	// CommissionConsultant is the selling consultant's standard commission
	CommissionConsultant CommissionKind = "consultant"
	// CommissionConsultantReferral is the extra split paid to the consultant on referral sales
	CommissionConsultantReferral CommissionKind = "consultant_referral"
	// CommissionManagerOverride is the manager's per-unit override with no milestone crossed
	CommissionManagerOverride CommissionKind = "manager_override"
	// CommissionManagerMilestone is the manager's override plus at least one team milestone bonus
	CommissionManagerMilestone CommissionKind = "manager_milestone"
)

// CommissionStatus is the payout state of a commission record
type CommissionStatus string

const (
	CommissionStatusPending   CommissionStatus = "pending"
	CommissionStatusPaid      CommissionStatus = "paid"
	CommissionStatusCancelled CommissionStatus = "cancelled"
)

// CommissionRole is the beneficiary role derived from the kind
type CommissionRole string

const (
	RoleConsultant CommissionRole = "consultant"
	RoleManager    CommissionRole = "manager"
)

// CommissionRecord is one amount owed to a beneficiary for a converted lead.
// At most one record of each kind exists per lead.
type CommissionRecord struct {
	ID                uuid.UUID        `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	LeadID            uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_commission_lead_kind,priority:1" json:"lead_id"`
	BeneficiaryUserID uuid.UUID        `gorm:"type:uuid;not null;index" json:"beneficiary_user_id"`
	Kind              CommissionKind   `gorm:"type:varchar(32);not null;uniqueIndex:idx_commission_lead_kind,priority:2" json:"kind"`
	EstablishmentCode string           `gorm:"type:varchar(64);not null;index" json:"establishment_code"`
	Reference         string           `gorm:"type:varchar(160);uniqueIndex" json:"reference"`
	BaseAmount        float64          `gorm:"type:decimal(20,2);not null;default:0" json:"base_amount"`
	BonusAmount       float64          `gorm:"type:decimal(20,2);not null;default:0" json:"bonus_amount"`
	TotalAmount       float64          `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount"`
	Status            CommissionStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	UnitsSold         int              `gorm:"not null" json:"units_sold"`
	SplitPercentage   *float64         `gorm:"type:decimal(5,2)" json:"split_percentage,omitempty"`
	PaidAt            *time.Time       `json:"paid_at,omitempty"`
	CreatedAt         time.Time        `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt         gorm.DeletedAt   `gorm:"index" json:"-"`
}

// Role returns the beneficiary role for the record's kind
func (k CommissionKind) Role() CommissionRole {
	switch k {
	case CommissionManagerOverride, CommissionManagerMilestone:
		return RoleManager
	default:
		return RoleConsultant
	}
}

// IsReferralSplit reports whether the kind is a referral split
func (k CommissionKind) IsReferralSplit() bool {
	return k == CommissionConsultantReferral
}

// IsValid reports whether k is a known kind
func (k CommissionKind) IsValid() bool {
	switch k {
	case CommissionConsultant, CommissionConsultantReferral, CommissionManagerOverride, CommissionManagerMilestone:
		return true
	}
	return false
}

// IsValid reports whether s is a known status
func (s CommissionStatus) IsValid() bool {
	switch s {
	case CommissionStatusPending, CommissionStatusPaid, CommissionStatusCancelled:
		return true
	}
	return false
}
