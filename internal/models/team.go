package models

import (
	"github.com/google/uuid"
)

// TeamMembership links a consultant to their single manager
type TeamMembership struct {
	Base
	ManagerID    uuid.UUID `gorm:"type:uuid;not null;index" json:"manager_id"`
	ConsultantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"consultant_id"`
}
