package models

import (
	"time"

	"github.com/google/uuid"
)

// CounterScope says whose units a counter accumulates
type CounterScope string

// CounterScopeUser counts units sold personally by the owner. Team totals are
// summed from the members' user counters and have no scope of their own.
const CounterScopeUser CounterScope = "user"

// UnitCounter is the running total of converted units for an owner at an establishment.
// It is only written inside the conversion transaction, under a row lock.
type UnitCounter struct {
	ID                uuid.UUID    `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Scope             CounterScope `gorm:"type:varchar(10);not null;uniqueIndex:idx_unit_counter_key,priority:1" json:"scope"`
	OwnerID           uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_unit_counter_key,priority:2" json:"owner_id"`
	EstablishmentCode string       `gorm:"type:varchar(64);not null;uniqueIndex:idx_unit_counter_key,priority:3" json:"establishment_code"`
	Units             int          `gorm:"not null;default:0" json:"units"`
	CreatedAt         time.Time    `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
}
