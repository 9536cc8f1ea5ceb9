package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Referral records that a lead originated from an earlier customer and what the split paid
type Referral struct {
	ID               uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	OriginLeadID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_referral_origin_lead,priority:1" json:"origin_lead_id"`
	LeadID           uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_referral_origin_lead,priority:2" json:"lead_id"`
	ConsultantID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"consultant_id"`
	SplitPercentage  float64        `gorm:"type:decimal(5,2);not null" json:"split_percentage"`
	CommissionAmount float64        `gorm:"type:decimal(20,2);default:0" json:"commission_amount"`
	Status           string         `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ConvertedAt      *time.Time     `json:"converted_at,omitempty"`
	CreatedAt        time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// ReferralStatusConverted marks a referral whose lead has been converted
const ReferralStatusConverted = "converted"
