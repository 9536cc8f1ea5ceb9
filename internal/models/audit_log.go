package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of commission event recorded
type AuditEventType string

const (
	AuditEventCommissionCreated AuditEventType = "COMMISSION_CREATED"
	AuditEventLeadConverted     AuditEventType = "LEAD_CONVERTED"
	AuditEventCounterDrift      AuditEventType = "COUNTER_DRIFT"
	AuditEventCounterRepaired   AuditEventType = "COUNTER_REPAIRED"
)

// AuditEventSeverity represents the severity level of an audit event
type AuditEventSeverity string

const (
	AuditSeverityInfo    AuditEventSeverity = "INFO"
	AuditSeverityWarning AuditEventSeverity = "WARNING"
)

// AuditLog is an append-only trail of commission events
type AuditLog struct {
	ID          uuid.UUID          `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Timestamp   time.Time          `gorm:"index" json:"timestamp"`
	UserID      *uuid.UUID         `gorm:"type:uuid;index" json:"user_id"`
	LeadID      *uuid.UUID         `gorm:"type:uuid;index" json:"lead_id"`
	RecordID    *uuid.UUID         `gorm:"type:uuid;index" json:"record_id"`
	EventType   AuditEventType     `gorm:"type:varchar(40);index" json:"event_type"`
	Severity    AuditEventSeverity `gorm:"type:varchar(10)" json:"severity"`
	Description string             `json:"description"`
	Details     JSON               `gorm:"type:jsonb" json:"details"`
	CreatedAt   time.Time          `json:"created_at"`
}
