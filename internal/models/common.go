package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base holds the id, timestamps and soft-delete column shared by leads and team memberships
type Base struct {
	ID        uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns the id client side so it is known before commit
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSON is a jsonb column holding free-form audit details
type JSON map[string]interface{}

// Value stores a nil map as an empty object so details are never NULL
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// Scan reads a jsonb value returned as bytes or text
func (j *JSON) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*j = JSON{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("models.JSON: cannot scan %T", value)
	}

	out := JSON{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("models.JSON: %w", err)
	}
	*j = out
	return nil
}

// RoundMoney rounds an amount to cents. Amounts are stored as decimal(20,2).
func RoundMoney(amount float64) float64 {
	return math.Round(amount*100) / 100
}
