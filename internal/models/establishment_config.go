package models

import (
	"time"

	"github.com/google/uuid"
)

// Manager milestone thresholds are fixed; only their values are configurable.
const (
	MilestoneThreshold35 = 35
	MilestoneThreshold50 = 50
	MilestoneThreshold75 = 75
)

// MilestoneThresholds lists the team milestones in ascending order
var MilestoneThresholds = []int{MilestoneThreshold35, MilestoneThreshold50, MilestoneThreshold75}

// Milestone is a team-wide cumulative unit threshold and the bonus paid each time it is crossed
type Milestone struct {
	Threshold int     `json:"threshold"`
	Value     float64 `json:"value"`
}

// EstablishmentCommissionConfig holds the commission parameters of one establishment.
// The bonus flags carry no gorm default: gorm would write the default in place of false.
// The column defaults live in the schema instead.
type EstablishmentCommissionConfig struct {
	ID                      uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	EstablishmentCode       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"establishment_code"`
	ConsultantUnitRate      float64   `gorm:"type:decimal(20,2);not null;default:0" json:"consultant_unit_rate"`
	ConsultantBonusInterval int       `gorm:"not null;default:7" json:"consultant_bonus_interval"`
	ConsultantBonusValue    float64   `gorm:"type:decimal(20,2);not null;default:0" json:"consultant_bonus_value"`
	ConsultantBonusEnabled  bool      `gorm:"not null" json:"consultant_bonus_enabled"`
	Milestone35Value        float64   `gorm:"column:milestone_35_value;type:decimal(20,2);not null;default:0" json:"milestone_35_value"`
	Milestone50Value        float64   `gorm:"column:milestone_50_value;type:decimal(20,2);not null;default:0" json:"milestone_50_value"`
	Milestone75Value        float64   `gorm:"column:milestone_75_value;type:decimal(20,2);not null;default:0" json:"milestone_75_value"`
	ManagerBonusEnabled     bool      `gorm:"not null" json:"manager_bonus_enabled"`
	CreatedAt               time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt               time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// Milestones returns the three manager milestones with their configured values
func (c *EstablishmentCommissionConfig) Milestones() []Milestone {
	return []Milestone{
		{Threshold: MilestoneThreshold35, Value: c.Milestone35Value},
		{Threshold: MilestoneThreshold50, Value: c.Milestone50Value},
		{Threshold: MilestoneThreshold75, Value: c.Milestone75Value},
	}
}
